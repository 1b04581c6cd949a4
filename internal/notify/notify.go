// Package notify delivers reminder payloads to the user. Delivery is an
// external collaborator concern; the engine only cares whether it
// succeeded, because a reminder is recorded in the ledger strictly after
// successful delivery.
package notify

import (
	"context"
	"os/exec"
	"time"

	"agendacal/internal/model"
)

// Payload is one reminder notification.
type Payload struct {
	Summary    string
	Start      time.Time
	SourceName string
}

// Sink delivers a reminder payload. An error means the reminder was not
// delivered and must not be recorded as sent.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// NotifySend delivers reminders through the notify-send binary, the
// classic desktop path: `notify-send <HH:MM> <summary>`.
type NotifySend struct {
	// Command overrides the binary name; empty means "notify-send".
	Command string
}

func (n *NotifySend) Deliver(ctx context.Context, p Payload) error {
	cmd := n.Command
	if cmd == "" {
		cmd = "notify-send"
	}
	title := p.Start.Format("15:04")
	summary := p.Summary
	if summary == "" {
		summary = "(no summary)"
	}
	return exec.CommandContext(ctx, cmd, title, summary).Run()
}

// FromOccurrence builds the payload for one occurrence.
func FromOccurrence(o model.Occurrence) Payload {
	return Payload{
		Summary:    o.Summary,
		Start:      o.Start,
		SourceName: o.Source,
	}
}
