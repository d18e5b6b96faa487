// Package dispatch launches a campaign: it creates the per-recipient
// tracking records, renders and instruments the email content, and hands
// the result to the outbound sender. It is the only place tokens are
// issued and the only caller that records SENT.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/ignite/phishtrack/internal/instrument"
	"github.com/ignite/phishtrack/internal/pkg/logger"
	"github.com/ignite/phishtrack/internal/recorder"
	"github.com/ignite/phishtrack/internal/token"
)

// Campaign is the content to send. Subject and HTMLTemplate are Liquid
// templates rendered per recipient.
type Campaign struct {
	ID           uuid.UUID
	Name         string
	FromName     string
	FromEmail    string
	Subject      string
	HTMLTemplate string
	TextTemplate string
}

// Recipient is one target of a campaign launch.
type Recipient struct {
	Email     string
	FirstName string
	LastName  string
	Position  string
}

// OutboundEmail is a fully rendered, instrumented message ready to send.
type OutboundEmail struct {
	To        string
	FromName  string
	FromEmail string
	Subject   string
	HTML      string
	Text      string
}

// Sender delivers outbound email. The transport is an external
// collaborator; dispatch only needs this much of it.
type Sender interface {
	Send(ctx context.Context, msg OutboundEmail) error
}

// RecipientStore persists new campaign recipients.
type RecipientStore interface {
	CreateRecipient(ctx context.Context, rec *recorder.CampaignRecipient) error
}

// EventRecorder records SENT after successful delivery.
type EventRecorder interface {
	Record(ctx context.Context, tok string, kind recorder.EventKind, meta recorder.Meta) error
}

// Result summarizes one launch.
type Result struct {
	Sent   int
	Failed int
}

// Dispatcher wires token issuance, rendering, instrumentation and sending.
type Dispatcher struct {
	store  RecipientStore
	rec    EventRecorder
	sender Sender
	inst   *instrument.Instrumentor
	engine *liquid.Engine
	now    func() time.Time
}

// New creates a Dispatcher.
func New(store RecipientStore, rec EventRecorder, sender Sender, inst *instrument.Instrumentor) *Dispatcher {
	return &Dispatcher{
		store:  store,
		rec:    rec,
		sender: sender,
		inst:   inst,
		engine: liquid.NewEngine(),
		now:    time.Now,
	}
}

// Launch sends the campaign to every recipient. Per-recipient failures are
// logged and counted but never abort the batch: a blast to 5000 targets
// must not stop because one mailbox rejects.
func (d *Dispatcher) Launch(ctx context.Context, c Campaign, recipients []Recipient) (*Result, error) {
	if c.HTMLTemplate == "" {
		return nil, fmt.Errorf("launch campaign %s: empty html template", c.ID)
	}

	res := &Result{}
	for _, target := range recipients {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("launch campaign %s: %w", c.ID, err)
		}
		if err := d.sendOne(ctx, c, target); err != nil {
			logger.Warn("dispatch failed",
				"campaign", c.ID.String(),
				"recipient_email", target.Email,
				"error", err.Error(),
			)
			res.Failed++
			continue
		}
		res.Sent++
	}

	logger.Info("campaign launched",
		"campaign", c.ID.String(),
		"sent", fmt.Sprint(res.Sent),
		"failed", fmt.Sprint(res.Failed),
	)
	return res, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, c Campaign, target Recipient) error {
	tok, err := token.New()
	if err != nil {
		return err
	}

	rec := &recorder.CampaignRecipient{
		ID:            uuid.New(),
		CampaignID:    c.ID,
		Email:         target.Email,
		TrackingToken: tok,
		CreatedAt:     d.now().UTC(),
	}
	if err := d.store.CreateRecipient(ctx, rec); err != nil {
		return err
	}

	bindings := liquid.Bindings{
		"first_name": target.FirstName,
		"last_name":  target.LastName,
		"email":      target.Email,
		"position":   target.Position,
		"tracker":    d.inst.OpenPixelURL(tok),
	}

	subject, err := d.engine.ParseAndRenderString(c.Subject, bindings)
	if err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	html, err := d.engine.ParseAndRenderString(c.HTMLTemplate, bindings)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	text := ""
	if c.TextTemplate != "" {
		if text, err = d.engine.ParseAndRenderString(c.TextTemplate, bindings); err != nil {
			return fmt.Errorf("render text: %w", err)
		}
	}

	msg := OutboundEmail{
		To:        target.Email,
		FromName:  c.FromName,
		FromEmail: c.FromEmail,
		Subject:   subject,
		HTML:      d.inst.InstrumentEmail(html, tok),
		Text:      text,
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// SENT is recorded only after the transport accepts the message, so
	// sentAt reflects actual handoff, not intent.
	if err := d.rec.Record(ctx, tok, recorder.KindSent, nil); err != nil {
		logger.Warn("record sent failed", "token", tok, "error", err.Error())
	}
	return nil
}
