// Package audit records security-relevant events: cross-tenant reads,
// default-graph access, and free-form query execution. Events flow through a
// buffered channel into NATS JetStream and are mirrored to the structured
// log; a full buffer falls back to synchronous publish so nothing is lost.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/jsonx"
	"github.com/engram-labs/engram/internal/temporal"
)

// EventType classifies audit events.
type EventType string

const (
	EventCrossTenantRead EventType = "cross_tenant_read"
	EventAdminAccess     EventType = "admin_access"
	EventFreeformQuery   EventType = "freeform_query"
)

// Event is one audit record. Free-form expressions are identified only by
// digest and length; raw query text never enters the event.
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	UserID         string    `json:"user_id,omitempty"`
	OrgID          string    `json:"org_id,omitempty"`
	TargetOrgID    string    `json:"target_org_id,omitempty"`
	ResourceType   string    `json:"resource_type,omitempty"`
	ResourceID     string    `json:"resource_id,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	ExpressionHash string    `json:"expression_hash,omitempty"`
	ExpressionLen  int       `json:"expression_len,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Timestamp      int64     `json:"timestamp"`
}

// CrossTenantRead describes one read that crossed an organization boundary.
type CrossTenantRead struct {
	UserID       string
	UserOrgID    string
	TargetOrgID  string
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
}

// SinkConfig holds configuration for the audit sink.
type SinkConfig struct {
	Enabled       bool
	BufferSize    int
	Subject       string
	Stream        string
	RetentionDays int
}

// DefaultSinkConfig returns sensible defaults.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Enabled:       true,
		BufferSize:    1000,
		Subject:       "audit",
		Stream:        "AUDIT",
		RetentionDays: 30,
	}
}

// Sink buffers and publishes audit events.
type Sink struct {
	js      nats.JetStreamContext
	cfg     SinkConfig
	clock   temporal.Clock
	logger  *zap.Logger
	events  chan Event
	done    chan struct{}
	publish func(Event)
}

// NewSink creates an audit sink. nc may be nil, in which case events are
// only mirrored to the log.
func NewSink(nc *nats.Conn, cfg SinkConfig, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSinkConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}

	s := &Sink{
		cfg:    cfg,
		clock:  temporal.Now,
		logger: logger.Named("audit"),
	}
	s.publish = s.emit

	if !cfg.Enabled {
		return s, nil
	}

	if nc != nil {
		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("audit: jetstream: %w", err)
		}
		if err := ensureStream(js, cfg); err != nil {
			return nil, err
		}
		s.js = js
	}

	s.events = make(chan Event, cfg.BufferSize)
	s.done = make(chan struct{})
	go s.worker()

	return s, nil
}

// NewNop returns a disabled sink for tests and tooling.
func NewNop() *Sink {
	s, _ := NewSink(nil, SinkConfig{Enabled: false}, nil)
	return s
}

func ensureStream(js nats.JetStreamContext, cfg SinkConfig) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("audit: stream info: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("audit: create stream: %w", err)
	}
	return nil
}

// WithClock swaps the wall clock, for tests.
func (s *Sink) WithClock(clock temporal.Clock) *Sink {
	s.clock = clock
	return s
}

// Record enqueues one event. A full buffer publishes synchronously rather
// than dropping.
func (s *Sink) Record(ctx context.Context, e Event) {
	if !s.cfg.Enabled {
		return
	}
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp == 0 {
		e.Timestamp = s.clock()
	}

	select {
	case s.events <- e:
	default:
		s.logger.Warn("Audit buffer full, publishing synchronously",
			zap.String("event_id", e.ID))
		s.publish(e)
	}
}

// LogCrossTenantRead records a read that crossed an organization boundary.
func (s *Sink) LogCrossTenantRead(ctx context.Context, r CrossTenantRead) {
	s.Record(ctx, Event{
		Type:         EventCrossTenantRead,
		UserID:       r.UserID,
		OrgID:        r.UserOrgID,
		TargetOrgID:  r.TargetOrgID,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		IPAddress:    r.IPAddress,
		UserAgent:    r.UserAgent,
	})
}

// RecordAdminAccess satisfies the tenant router's auditor; every
// default-graph handle passes through here.
func (s *Sink) RecordAdminAccess(ctx context.Context, actor, namespace, reason string) {
	s.Record(ctx, Event{
		Type:         EventAdminAccess,
		UserID:       actor,
		ResourceType: "graph",
		ResourceID:   namespace,
		Reason:       reason,
	})
}

// LogFreeformQuery records a free-form read by digest and length only.
func (s *Sink) LogFreeformQuery(ctx context.Context, userID, orgID, expression string) {
	sum := sha256.Sum256([]byte(expression))
	s.Record(ctx, Event{
		Type:           EventFreeformQuery,
		UserID:         userID,
		OrgID:          orgID,
		ResourceType:   "cypher",
		ExpressionHash: hex.EncodeToString(sum[:]),
		ExpressionLen:  len(expression),
	})
}

// Close drains buffered events and stops the worker.
func (s *Sink) Close() {
	if s.events == nil {
		return
	}
	close(s.events)
	<-s.done
}

func (s *Sink) worker() {
	defer close(s.done)
	for e := range s.events {
		s.publish(e)
	}
}

func (s *Sink) emit(e Event) {
	if s.js != nil {
		data, err := jsonx.Marshal(e)
		if err != nil {
			s.logger.Error("Failed to encode audit event",
				zap.String("event_id", e.ID),
				zap.Error(err))
			return
		}
		if _, err := s.js.Publish(s.subjectFor(e), data); err != nil {
			s.logger.Error("Failed to publish audit event",
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("AUDIT",
		zap.String("event_id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("user", e.UserID),
		zap.String("org", e.OrgID),
		zap.String("resource", e.ResourceID),
		zap.String("reason", e.Reason))
}

func (s *Sink) subjectFor(e Event) string {
	return fmt.Sprintf("%s.%s.%s", s.cfg.Subject, subjectToken(string(e.Type)), subjectToken(e.OrgID))
}

// subjectToken makes a value safe as one NATS subject token.
func subjectToken(v string) string {
	if v == "" {
		return "none"
	}
	v = strings.ReplaceAll(v, ".", "_")
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "*", "_")
	v = strings.ReplaceAll(v, ">", "_")
	return v
}
