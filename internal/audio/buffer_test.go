package audio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
)

func newTestBuffer(t *testing.T) *FileBuffer {
	t.Helper()
	buf, err := NewFileBuffer(t.TempDir(), "stream_test.webm")
	if err != nil {
		t.Fatalf("NewFileBuffer() failed: %v", err)
	}
	t.Cleanup(func() { buf.Remove() })
	return buf
}

func TestFileBuffer_WriteOrdered(t *testing.T) {
	buf := newTestBuffer(t)

	var expected []byte
	for i := 0; i < 10; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i+1)
		n, err := buf.Write(chunk)
		if err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		if n != len(chunk) {
			t.Errorf("Expected to write %d bytes, got %d", len(chunk), n)
		}
		expected = append(expected, chunk...)
	}

	if buf.Len() != int64(len(expected)) {
		t.Errorf("Expected length %d, got %d", len(expected), buf.Len())
	}

	onDisk, err := os.ReadFile(buf.Path())
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !bytes.Equal(onDisk, expected) {
		t.Error("Expected file contents to be the concatenation of writes in order")
	}
}

func TestFileBuffer_DuplicatesKept(t *testing.T) {
	buf := newTestBuffer(t)

	buf.Write([]byte("abc"))
	buf.Write([]byte("abc"))

	if buf.Len() != 6 {
		t.Errorf("Expected identical payloads to both be appended, got length %d", buf.Len())
	}
}

func TestFileBuffer_SnapshotIsPrefix(t *testing.T) {
	buf := newTestBuffer(t)
	buf.Write([]byte("hello "))

	snap, err := buf.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	defer snap.Close()

	// Later writes must not leak into an existing snapshot
	buf.Write([]byte("world"))

	if snap.Size() != 6 {
		t.Errorf("Expected snapshot size 6, got %d", snap.Size())
	}

	data, err := io.ReadAll(snap)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if string(data) != "hello " {
		t.Errorf("Expected 'hello ', got '%s'", data)
	}
}

func TestFileBuffer_RemoveDeletesFile(t *testing.T) {
	buf := newTestBuffer(t)
	buf.Write([]byte{1, 2, 3})

	if err := buf.Remove(); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	if _, err := os.Stat(buf.Path()); !os.IsNotExist(err) {
		t.Errorf("Expected buffer file to be deleted, stat err: %v", err)
	}

	if _, err := buf.Write([]byte{4}); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Expected ErrBufferClosed after Remove, got %v", err)
	}
	if _, err := buf.Snapshot(); !errors.Is(err, ErrBufferClosed) {
		t.Errorf("Expected ErrBufferClosed from Snapshot after Remove, got %v", err)
	}

	// Second remove is a no-op
	if err := buf.Remove(); err != nil {
		t.Errorf("Expected second Remove to be a no-op, got %v", err)
	}
}

func TestFileBuffer_RemoveWaitsForSnapshot(t *testing.T) {
	buf := newTestBuffer(t)
	buf.Write([]byte("in flight"))

	snap, err := buf.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}

	if err := buf.Remove(); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	// The open snapshot must still be readable
	data, err := io.ReadAll(snap)
	if err != nil {
		t.Fatalf("ReadAll() after Remove failed: %v", err)
	}
	if string(data) != "in flight" {
		t.Errorf("Expected 'in flight', got '%s'", data)
	}

	if _, err := os.Stat(buf.Path()); err != nil {
		t.Errorf("Expected file to survive while a snapshot is open, stat err: %v", err)
	}

	if err := snap.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := os.Stat(buf.Path()); !os.IsNotExist(err) {
		t.Errorf("Expected file to be deleted after last snapshot closed, stat err: %v", err)
	}

	// Closing twice must not underflow the reader count
	if err := snap.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}

func TestFileBuffer_ConcurrentWritesAndSnapshots(t *testing.T) {
	buf := newTestBuffer(t)
	chunk := bytes.Repeat([]byte{0xAB}, 64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			buf.Write(chunk)
		}
	}()

	for i := 0; i < 50; i++ {
		snap, err := buf.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot() failed: %v", err)
		}
		data, err := io.ReadAll(snap)
		snap.Close()
		if err != nil {
			t.Fatalf("ReadAll() failed: %v", err)
		}
		if len(data)%len(chunk) != 0 {
			t.Errorf("Expected snapshot to contain whole writes, got %d bytes", len(data))
		}
	}

	wg.Wait()
	if buf.Len() != int64(200*len(chunk)) {
		t.Errorf("Expected length %d, got %d", 200*len(chunk), buf.Len())
	}
}
