// Package testutil provides shared test helpers for setting up stores and stage registries.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/salesboard/internal/stages"
	"github.com/starford/salesboard/internal/store"
)

// TestBackend creates a temporary SQLite backend that is automatically cleaned up.
func TestBackend(t *testing.T) *store.SQLBackend {
	t.Helper()
	dbFile, err := os.CreateTemp("", "salesboard-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	b, err := store.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// TestStore creates a record store over a temporary SQLite backend with its
// change loop running until the test ends.
func TestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s := store.New(TestBackend(t), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

// TestStages creates a stage registry persisted in a temporary directory.
func TestStages(t *testing.T) *stages.Registry {
	t.Helper()
	r, err := stages.New(stages.WithFile(t.TempDir() + "/stages.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return r
}
