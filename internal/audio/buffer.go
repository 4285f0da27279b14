package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrBufferClosed is returned by writes and snapshots after Remove
var ErrBufferClosed = errors.New("audio buffer is closed")

// FileBuffer is an append-only, file-backed buffer for one stream's raw audio.
// Writes are ordered; snapshots see a prefix of everything written before they were taken.
// The backing file is deleted once the buffer is removed and no snapshot is still open.
type FileBuffer struct {
	path string

	mu       sync.Mutex
	file     *os.File
	size     int64
	readers  int
	closed   bool
	disposed bool
}

// NewFileBuffer creates (or truncates) dir/name and returns an empty buffer over it
func NewFileBuffer(dir, name string) (*FileBuffer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create buffer dir: %w", err)
	}

	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open buffer file: %w", err)
	}

	return &FileBuffer{
		path: path,
		file: file,
	}, nil
}

// Write appends p to the buffer
func (b *FileBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrBufferClosed
	}

	n, err := b.file.Write(p)
	b.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("append to %s: %w", b.path, err)
	}
	return n, nil
}

// Len returns the number of bytes appended so far
func (b *FileBuffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Path returns the backing file path
func (b *FileBuffer) Path() string {
	return b.path
}

// Snapshot returns a reader over the current contents. The caller must Close it.
func (b *FileBuffer) Snapshot() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBufferClosed
	}

	b.readers++
	return &Snapshot{
		SectionReader: io.NewSectionReader(b.file, 0, b.size),
		buf:           b,
	}, nil
}

// Remove closes the buffer for writing and deletes the backing file as soon as
// no snapshot is open. Calling Remove again is a no-op.
func (b *FileBuffer) Remove() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.readers > 0 {
		return nil
	}
	return b.dispose()
}

func (b *FileBuffer) release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readers--
	if b.closed && b.readers == 0 {
		return b.dispose()
	}
	return nil
}

// dispose closes and deletes the backing file; caller holds mu
func (b *FileBuffer) dispose() error {
	if b.disposed {
		return nil
	}
	b.disposed = true

	var errs []error
	if err := b.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", b.path, err))
	}
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove %s: %w", b.path, err))
	}
	return errors.Join(errs...)
}

// Snapshot is a read-only, fixed-size view of a FileBuffer
type Snapshot struct {
	*io.SectionReader

	buf  *FileBuffer
	once sync.Once
}

// Close releases the snapshot. It returns any error from deleting the backing
// file when this was the last reader of a removed buffer.
func (s *Snapshot) Close() error {
	var err error
	s.once.Do(func() {
		err = s.buf.release()
	})
	return err
}
