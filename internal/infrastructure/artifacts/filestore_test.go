package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"NewsDigest/internal/domain"
)

func TestSaveIsContentAddressed(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	first, err := store.Save(domain.StageScript, []byte(`{"a":1}`), "json")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := store.Save(domain.StageScript, []byte(`{"a":1}`), ".json")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if first != second {
		t.Fatalf("expected same ref, got %s and %s", first, second)
	}
	if filepath.Dir(first) != filepath.Join(store.Dir(), "script") || filepath.Ext(first) != ".json" {
		t.Fatalf("unexpected location %s", first)
	}

	other, err := store.Save(domain.StageScript, []byte(`{"a":2}`), "json")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if other == first {
		t.Fatal("expected different ref for different content")
	}

	data, err := store.Load(first)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLoadRejectsForeignPaths(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Load(outside); err == nil {
		t.Fatal("expected error for path outside the store")
	}
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	t.Parallel()

	if _, err := NewFileStore(" "); err == nil {
		t.Fatal("expected configuration error")
	}
}
