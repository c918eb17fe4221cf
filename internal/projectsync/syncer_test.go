package projectsync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chicoryai/taskrunner/internal/objectstore"
)

func TestSyncer_Sync_DownloadsUnderPrefix(t *testing.T) {
	ctx := context.Background()
	storeDir := t.TempDir()
	localDir := t.TempDir()

	store, err := objectstore.NewLocalStore(storeDir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	if _, err := store.Put(ctx, "proj1/reports/q1.csv", bytes.NewReader([]byte("a,b\n1,2\n")), objectstore.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, "proj1/notes.txt", bytes.NewReader([]byte("hi")), objectstore.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, "proj2/other.txt", bytes.NewReader([]byte("nope")), objectstore.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	syncer := NewSyncer(store, localDir, nil)
	result, err := syncer.Sync(ctx, "proj1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Downloaded != 2 {
		t.Fatalf("Downloaded = %d, want 2", result.Downloaded)
	}
	if !result.Succeeded() {
		t.Error("expected Succeeded() true")
	}

	data, err := os.ReadFile(filepath.Join(localDir, "proj1", "reports", "q1.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("got %q", data)
	}

	if _, err := os.Stat(filepath.Join(localDir, "proj2")); !os.IsNotExist(err) {
		t.Error("proj2 should not have been synced")
	}
}

func TestSyncer_Sync_EmptyPrefixIsNotError(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	syncer := NewSyncer(store, t.TempDir(), nil)

	result, err := syncer.Sync(ctx, "empty-project")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Succeeded() {
		t.Error("expected Succeeded() false for zero objects")
	}
}

func TestSyncer_Sync_RespectsMaxFiles(t *testing.T) {
	ctx := context.Background()
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	for i := 0; i < 5; i++ {
		key := "proj1/f" + string(rune('a'+i)) + ".txt"
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), objectstore.PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	syncer := NewSyncer(store, t.TempDir(), nil)
	syncer.MaxFiles = 3
	result, err := syncer.Sync(ctx, "proj1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Downloaded != 3 {
		t.Fatalf("Downloaded = %d, want 3 (bounded)", result.Downloaded)
	}
}
