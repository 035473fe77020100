// Package metrics exposes Prometheus collectors for notification delivery,
// inbox polling and lifecycle transitions. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meetsync"

type Metrics struct {
	sendAttempts *prometheus.CounterVec
	sendResults  *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	pollResults  *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	remindersRun prometheus.Counter
}

// New creates and registers the collectors on reg. Collectors that are
// already registered are reused, so calling New twice on one registry is safe.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "attempts_total",
			Help:      "Transport send attempts by notification kind and template.",
		}, []string{"kind", "template"}),
		sendResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "recipients_total",
			Help:      "Per-recipient delivery outcomes by kind.",
		}, []string{"kind", "result"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a SendToMany batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		pollResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "polls_total",
			Help:      "Inbox poll outcomes.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Meeting lifecycle operations by operation and outcome.",
		}, []string{"op", "result"}),
		remindersRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "sweeps_total",
			Help:      "Completed reminder sweeps.",
		}),
	}

	var err error
	if m.sendAttempts, err = register(reg, m.sendAttempts); err != nil {
		return nil, err
	}
	if m.sendResults, err = register(reg, m.sendResults); err != nil {
		return nil, err
	}
	if m.sendDuration, err = register(reg, m.sendDuration); err != nil {
		return nil, err
	}
	if m.pollResults, err = register(reg, m.pollResults); err != nil {
		return nil, err
	}
	if m.transitions, err = register(reg, m.transitions); err != nil {
		return nil, err
	}
	if m.remindersRun, err = register(reg, m.remindersRun); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}

// SendAttempt counts one transport call. fallback selects the template label.
func (m *Metrics) SendAttempt(kind string, fallback bool) {
	if m == nil {
		return
	}
	tpl := "full"
	if fallback {
		tpl = "fallback"
	}
	m.sendAttempts.WithLabelValues(kind, tpl).Inc()
}

func (m *Metrics) RecipientResult(kind string, ok bool) {
	if m == nil {
		return
	}
	m.sendResults.WithLabelValues(kind, result(ok)).Inc()
}

func (m *Metrics) ObserveBatch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Poll records an inbox poll outcome: "ok", "retry" or "failed".
func (m *Metrics) Poll(outcome string) {
	if m == nil {
		return
	}
	m.pollResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(op string, ok bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(op, result(ok)).Inc()
}

func (m *Metrics) ReminderSweep() {
	if m == nil {
		return
	}
	m.remindersRun.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
