package recorder

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one of the independent first-occurrence flags on a
// CampaignRecipient. A recipient can legitimately reach any of these in any
// order (clicks without opens under image blocking, reports without opens),
// so kinds are flags, not steps in a linear state machine.
type EventKind string

const (
	KindSent      EventKind = "sent"
	KindOpened    EventKind = "opened"
	KindClicked   EventKind = "clicked"
	KindSubmitted EventKind = "submitted"
	KindReported  EventKind = "reported"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindSent, KindOpened, KindClicked, KindSubmitted, KindReported:
		return true
	}
	return false
}

// CampaignRecipient is one row per (campaign, recipient). The *At fields are
// first-occurrence timestamps: once set they are never overwritten or
// cleared. Only the Recorder mutates them.
type CampaignRecipient struct {
	ID            uuid.UUID  `json:"id"`
	CampaignID    uuid.UUID  `json:"campaign_id"`
	Email         string     `json:"email"`
	TrackingToken string     `json:"tracking_token"`
	Delivered     bool       `json:"delivered"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClickedAt     *time.Time `json:"clicked_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ReportedAt    *time.Time `json:"reported_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// FlagAt returns the first-occurrence timestamp for the given kind.
func (r *CampaignRecipient) FlagAt(kind EventKind) *time.Time {
	switch kind {
	case KindSent:
		return r.SentAt
	case KindOpened:
		return r.OpenedAt
	case KindClicked:
		return r.ClickedAt
	case KindSubmitted:
		return r.SubmittedAt
	case KindReported:
		return r.ReportedAt
	}
	return nil
}

// InteractionEvent is an append-only log entry. Meta carries only
// non-sensitive flags; raw form content never reaches this type.
type InteractionEvent struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Kind        EventKind `json:"kind"`
	OccurredAt  time.Time `json:"occurred_at"`
	Meta        Meta      `json:"meta,omitempty"`
}

// Meta is the optional payload attached to an interaction event.
type Meta map[string]interface{}

// metaWhitelist enumerates the only keys an event may carry, with a type
// check per key. Everything else (field values, credentials, anything a
// tampered beacon sends) is dropped before the event is persisted.
var metaWhitelist = map[string]func(interface{}) bool{
	"pageSlug":  func(v interface{}) bool { _, ok := v.(string); return ok },
	"submitted": func(v interface{}) bool { _, ok := v.(bool); return ok },
}

const maxPageSlugLen = 128

// SanitizeMeta returns a copy of meta containing only whitelisted,
// well-typed keys. A nil or fully-stripped meta comes back nil.
func SanitizeMeta(meta Meta) Meta {
	if len(meta) == 0 {
		return nil
	}
	var out Meta
	for key, val := range meta {
		check, ok := metaWhitelist[key]
		if !ok || !check(val) {
			continue
		}
		if s, ok := val.(string); ok && len(s) > maxPageSlugLen {
			continue
		}
		if out == nil {
			out = make(Meta, len(metaWhitelist))
		}
		out[key] = val
	}
	return out
}
