// Package recorder turns raw tracking hits into durable, idempotent
// campaign-recipient state transitions. It is the sole writer of
// CampaignRecipient flag timestamps and the sole appender of
// InteractionEvents; every other component goes through Record.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishtrack/internal/token"
)

// ErrNotFound is returned by stores when no recipient matches a token.
// For the Recorder this is the expected outcome for tampered or garbage
// tokens and is swallowed, not propagated.
var ErrNotFound = errors.New("recipient not found")

// Store is the persistence contract the recorder needs from the data layer.
type Store interface {
	// RecipientByToken is a single indexed point lookup.
	RecipientByToken(ctx context.Context, tok string) (*CampaignRecipient, error)

	// CreateInteraction appends an InteractionEvent and, if the flag for
	// kind is still unset, sets it to occurredAt, both in one atomic unit.
	// For KindSent it additionally marks the recipient delivered. The
	// conditional update must be row-scoped and lost-update safe
	// ("set only if currently null"), so duplicate and out-of-order hits
	// for the same token commute.
	CreateInteraction(ctx context.Context, recipientID uuid.UUID, kind EventKind, occurredAt time.Time, meta Meta) error
}

// Lookup resolves tokens to recipients. The Store satisfies it directly; a
// read-through cache can be layered in front without the recorder caring.
type Lookup interface {
	RecipientByToken(ctx context.Context, tok string) (*CampaignRecipient, error)
}

// Recorder applies tracking events to recipient state.
//
// Every hit appends a new InteractionEvent, including repeated opens: a
// pixel re-fired days later is a re-engagement signal worth keeping, and
// prefetcher noise is a reporting-time filtering problem, not a write-time
// one. Flag timestamps, by contrast, are set exactly once.
type Recorder struct {
	store   Store
	lookup  Lookup
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLookup routes token resolution through l (e.g. a Redis read-through
// cache) instead of the store itself.
func WithLookup(l Lookup) Option {
	return func(r *Recorder) { r.lookup = l }
}

// WithTimeout bounds the persistence step of each Record call.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// DefaultTimeout bounds Record's persistence work. Tracking is best-effort
// telemetry; under load it is better to drop a write than to stall the
// pixel/redirect response behind a slow database.
const DefaultTimeout = 3 * time.Second

// New creates a Recorder over the given store.
func New(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		lookup:  store,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record resolves tok and applies one event of the given kind.
//
// Unknown and structurally invalid tokens are silent no-ops: they are the
// normal result of tampering and scanner traffic, and the caller's response
// to the client must not change. Storage errors are returned so callers can
// log them, but the HTTP boundary never lets them surface to the recipient.
func (r *Recorder) Record(ctx context.Context, tok string, kind EventKind, meta Meta) error {
	if !kind.Valid() {
		return fmt.Errorf("record: unknown event kind %q", kind)
	}
	if !token.Valid(tok) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.lookup.RecipientByToken(ctx, tok)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: resolve token: %w", kind, err)
	}

	if err := r.store.CreateInteraction(ctx, rec.ID, kind, r.now().UTC(), SanitizeMeta(meta)); err != nil {
		return fmt.Errorf("record %s: %w", kind, err)
	}
	return nil
}

// Resolve looks up the recipient for a token without recording anything.
// Landing-page rendering uses it to decide whether a page should be
// personalized at all.
func (r *Recorder) Resolve(ctx context.Context, tok string) (*CampaignRecipient, error) {
	if !token.Valid(tok) {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.lookup.RecipientByToken(ctx, tok)
}
