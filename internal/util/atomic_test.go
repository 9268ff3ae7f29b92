package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	if err := WriteFileAtomic(path, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected content: %s", data)
	}

	// Overwrite must replace, not append.
	if err := WriteFileAtomic(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("second WriteFileAtomic returned error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "x" {
		t.Fatalf("expected replaced content, got %s", data)
	}
}
