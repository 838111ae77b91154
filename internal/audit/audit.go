package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the token lifecycle.
const (
	EventLogin          = "login"
	EventLoginPassword  = "login_password"
	EventRefresh        = "refresh"
	EventLogout         = "logout"
	EventAuthenticate   = "authenticate"
	EventSecondFactor   = "second_factor"
	EventSecretEnrolled = "second_factor_enrolled"
)

// Event is one audit record. Tokens are never part of an event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	Principal  string            `json:"principal,omitempty"`
	ClientAddr string            `json:"client_addr,omitempty"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.writer.Write(data)
}

// SlogSink logs each event as a structured record.
type SlogSink struct {
	logger *slog.Logger
	level  slog.Level
}

func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger, level: level}
}

func (s *SlogSink) Emit(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("event", event.EventType),
		slog.Bool("success", event.Success),
		slog.Time("at", event.Timestamp),
	}
	if event.Principal != "" {
		attrs = append(attrs, slog.String("principal", event.Principal))
	}
	if event.ClientAddr != "" {
		attrs = append(attrs, slog.String("client_addr", event.ClientAddr))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.LogAttrs(ctx, s.level, "audit", attrs...)
}
