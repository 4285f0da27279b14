package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTempDirCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "buffers")

	ok, err := tempDirCheck(dir)(context.Background())
	if !ok || err != nil {
		t.Fatalf("Expected writable temp dir, got ok=%v err=%v", ok, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected probe file to be removed, found %d entries", len(entries))
	}
}

func TestCommandTree(t *testing.T) {
	for _, name := range []string{"serve", "transcribe", "summarize"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}

	if err := transcribeCmd.Args(transcribeCmd, nil); err == nil {
		t.Error("Expected transcribe to require a file argument")
	}
	if summarizeCmd.Flags().Lookup("api-key") == nil {
		t.Error("Expected summarize to have an --api-key flag")
	}
}
