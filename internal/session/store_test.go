package session

import (
	"sync"
	"testing"
	"time"
)

func TestCreateRequiresEmbedding(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	if _, err := store.Create(nil); err != ErrNoEmbedding {
		t.Errorf("Create(nil) error = %v, want ErrNoEmbedding", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d sessions after rejected create, want 0", store.Len())
	}
}

func TestCreateAndGet(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	emb := []float32{0.1, 0.2, 0.3}
	id, err := store.Create(emb)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("session id %q has length %d, want 32 hex chars", id, len(id))
	}

	got, ok := store.Get(id)
	if !ok {
		t.Fatal("Get returned not found for a live session")
	}
	if len(got) != len(emb) || got[0] != emb[0] {
		t.Errorf("Get returned %v, want %v", got, emb)
	}
}

func TestSessionIDsUnique(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := store.Create([]float32{1})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}

func TestClaimIsSingleUse(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	id, err := store.Create([]float32{1, 2})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, ok := store.Claim(id); !ok {
		t.Fatal("first Claim failed")
	}
	if _, ok := store.Claim(id); ok {
		t.Error("second Claim succeeded, want not found")
	}
	if _, ok := store.Get(id); ok {
		t.Error("Get succeeded after Claim, want not found")
	}
}

func TestClaimConcurrentRace(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	id, err := store.Create([]float32{1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Claim(id); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("%d concurrent claims succeeded, want exactly 1", count)
	}
}

func TestConsumeIdempotent(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	id, err := store.Create([]float32{1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store.Consume(id)
	store.Consume(id)
	store.Consume("never-existed")

	if store.Len() != 0 {
		t.Errorf("store has %d sessions, want 0", store.Len())
	}
}

func TestExpiredSessionNotClaimable(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)

	id, err := store.Create([]float32{1})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := store.Get(id); ok {
		t.Error("Get succeeded for expired session")
	}
	if _, ok := store.Claim(id); ok {
		t.Error("Claim succeeded for expired session")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)

	if _, err := store.Create([]float32{1}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	store.sweep()

	if store.Len() != 0 {
		t.Errorf("store has %d sessions after sweep, want 0", store.Len())
	}
}
