package tokencache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishtrack/internal/recorder"
)

type countingLookup struct {
	calls      int
	recipients map[string]*recorder.CampaignRecipient
}

func (l *countingLookup) RecipientByToken(ctx context.Context, tok string) (*recorder.CampaignRecipient, error) {
	l.calls++
	rec, ok := l.recipients[tok]
	if !ok {
		return nil, recorder.ErrNotFound
	}
	return rec, nil
}

func setupCache(t *testing.T) (*Cache, *countingLookup, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lookup := &countingLookup{recipients: make(map[string]*recorder.CampaignRecipient)}
	return New(client, lookup, time.Minute), lookup, mr
}

func TestReadThrough(t *testing.T) {
	cache, lookup, _ := setupCache(t)
	tok := "AbCdEfGhIjKlMnOpQrStUv"
	want := &recorder.CampaignRecipient{ID: uuid.New(), TrackingToken: tok, Email: "target@example.com"}
	lookup.recipients[tok] = want

	ctx := context.Background()

	// Miss populates the cache.
	got, err := cache.RecipientByToken(ctx, tok)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("got %v, want %v", got.ID, want.ID)
	}
	if lookup.calls != 1 {
		t.Fatalf("store calls = %d, want 1", lookup.calls)
	}

	// Hit skips the store.
	got, err = cache.RecipientByToken(ctx, tok)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("cached recipient mismatch: %v", got.ID)
	}
	if lookup.calls != 1 {
		t.Errorf("store calls = %d, want 1 (cache hit expected)", lookup.calls)
	}
}

func TestNotFoundIsNotCached(t *testing.T) {
	cache, lookup, _ := setupCache(t)
	tok := "AbCdEfGhIjKlMnOpQrStUv"
	ctx := context.Background()

	if _, err := cache.RecipientByToken(ctx, tok); !errors.Is(err, recorder.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// Recipient shows up (dispatch committed): next lookup must see it.
	lookup.recipients[tok] = &recorder.CampaignRecipient{ID: uuid.New(), TrackingToken: tok}
	if _, err := cache.RecipientByToken(ctx, tok); err != nil {
		t.Errorf("lookup after creation: %v", err)
	}
	if lookup.calls != 2 {
		t.Errorf("store calls = %d, want 2 (not-found must not be cached)", lookup.calls)
	}
}

func TestInvalidate(t *testing.T) {
	cache, lookup, _ := setupCache(t)
	tok := "AbCdEfGhIjKlMnOpQrStUv"
	lookup.recipients[tok] = &recorder.CampaignRecipient{ID: uuid.New(), TrackingToken: tok}
	ctx := context.Background()

	if _, err := cache.RecipientByToken(ctx, tok); err != nil {
		t.Fatal(err)
	}
	if err := cache.Invalidate(ctx, tok); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cache.RecipientByToken(ctx, tok); err != nil {
		t.Fatal(err)
	}
	if lookup.calls != 2 {
		t.Errorf("store calls = %d, want 2 (entry should have been evicted)", lookup.calls)
	}
}

func TestCorruptEntryFallsThrough(t *testing.T) {
	cache, lookup, mr := setupCache(t)
	tok := "AbCdEfGhIjKlMnOpQrStUv"
	want := &recorder.CampaignRecipient{ID: uuid.New(), TrackingToken: tok}
	lookup.recipients[tok] = want

	mr.Set("trk:tok:"+tok, "{not json")

	got, err := cache.RecipientByToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("lookup with corrupt cache: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("got %v, want %v", got.ID, want.ID)
	}
	if lookup.calls != 1 {
		t.Errorf("store calls = %d, want 1", lookup.calls)
	}
}
