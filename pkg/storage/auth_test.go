package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/menta2k/brandimage/internal/session"
)

type failingStore struct {
	sets atomic.Int32
}

func (s *failingStore) Get(string) (string, error) { return "", session.ErrNotFound }
func (s *failingStore) Set(string, string) error {
	s.sets.Add(1)
	return errors.New("disk full")
}
func (s *failingStore) Delete(string) error { return nil }

func TestAnonymousAuth_SignInOnce(t *testing.T) {
	auth := NewAnonymousAuth(session.NewMemoryStore())

	var created atomic.Int32
	auth.newUID = func() string {
		created.Add(1)
		return "uid-1"
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := auth.SignIn(context.Background())
			if err != nil {
				t.Errorf("SignIn failed: %v", err)
				return
			}
			if id.UID != "uid-1" || !id.Anonymous {
				t.Errorf("unexpected identity %+v", id)
			}
		}()
	}
	wg.Wait()

	if n := created.Load(); n != 1 {
		t.Fatalf("identity should be created once; created %d times", n)
	}
}

func TestAnonymousAuth_restoresPersistedIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	first, err := NewAnonymousAuth(session.NewFileStore(path)).SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	second, err := NewAnonymousAuth(session.NewFileStore(path)).SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if first.UID != second.UID {
		t.Fatalf("expected the persisted identity %q; got %q", first.UID, second.UID)
	}
}

func TestAnonymousAuth_fallsBackToMemory(t *testing.T) {
	store := &failingStore{}
	auth := NewAnonymousAuth(store, WithRetries(2, time.Millisecond))

	id, err := auth.SignIn(context.Background())
	if err != nil {
		t.Fatalf("SignIn should succeed with memory fallback; got %v", err)
	}
	if id.UID == "" {
		t.Fatal("expected an identity")
	}
	if n := store.sets.Load(); n != 3 {
		t.Fatalf("expected 3 persistence attempts; got %d", n)
	}
	if !auth.MemoryOnly() {
		t.Fatal("auth should report memory-only persistence")
	}

	again, err := auth.SignIn(context.Background())
	if err != nil || again.UID != id.UID {
		t.Fatalf("expected the cached identity; got %+v, %v", again, err)
	}
}

func TestAnonymousAuth_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewAnonymousAuth(nil).SignIn(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}

func TestAnonymousAuth_SignOut(t *testing.T) {
	auth := NewAnonymousAuth(session.NewMemoryStore())

	first, _ := auth.SignIn(context.Background())
	if err := auth.SignOut(); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	second, _ := auth.SignIn(context.Background())

	if first.UID == second.UID {
		t.Fatal("expected a fresh identity after SignOut")
	}
}
