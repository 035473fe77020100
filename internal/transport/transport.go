// Package transport defines the outbound notification primitive and the
// concrete senders the service ships with.
//
// A Transport only reports success (nil) or failure. Delivery confirmation
// beyond that is never assumed.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "meetsync/pkg/logx"
)

var ErrNoRecipient = errors.New("transport: no route for recipient")

type Transport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, to, subject, body string) error

func (f Func) Send(ctx context.Context, to, subject, body string) error { return f(ctx, to, subject, body) }

// Log writes every message to the logger and always succeeds.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.Component("transport.log"))}
}

func (l *Log) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("notification", logx.String("to", to), logx.String("subject", subject), logx.Int("body_len", len(body)))
	l.log.Debug("notification body", logx.String("to", to), logx.String("body", body))
	return nil
}

// Message is one delivered notification kept by Outbox.
type Message struct {
	To      string
	Subject string
	Body    string
	At      time.Time
}

// Outbox records messages in memory, optionally forwarding them to Next.
// It backs the dev "outbox" driver and is handy in tests.
type Outbox struct {
	Next Transport

	mu   sync.Mutex
	msgs []Message
	max  int
}

func NewOutbox(next Transport, max int) *Outbox {
	if max <= 0 {
		max = 500
	}
	return &Outbox{Next: next, max: max}
}

func (o *Outbox) Send(ctx context.Context, to, subject, body string) error {
	if o.Next != nil {
		if err := o.Next.Send(ctx, to, subject, body); err != nil {
			return err
		}
	}
	o.mu.Lock()
	o.msgs = append(o.msgs, Message{To: to, Subject: subject, Body: body, At: time.Now()})
	if len(o.msgs) > o.max {
		o.msgs = o.msgs[len(o.msgs)-o.max:]
	}
	o.mu.Unlock()
	return nil
}

// Messages returns a copy of the recorded messages, oldest first.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.msgs...)
}
