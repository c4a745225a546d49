// Package notify delivers user-facing success and error notifications, the
// toasts of the dashboard.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Level is the notification severity.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one toast.
type Notification struct {
	ID       string    `json:"id"`
	Level    Level     `json:"level"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Op       string    `json:"op,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	// Kind is the failure classification for error notifications.
	Kind      string    `json:"kind,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	At        time.Time `json:"at"`
}

// Success builds a success notification.
func Success(op, recordID, message string) Notification {
	return Notification{
		ID:       uuid.New().String(),
		Level:    LevelSuccess,
		Title:    "Success",
		Message:  message,
		Op:       op,
		RecordID: recordID,
		At:       time.Now(),
	}
}

// Failure builds an error notification.
func Failure(op, recordID, message, kind string, retryable bool) Notification {
	return Notification{
		ID:        uuid.New().String(),
		Level:     LevelError,
		Title:     "Error",
		Message:   message,
		Op:        op,
		RecordID:  recordID,
		Kind:      kind,
		Retryable: retryable,
		At:        time.Now(),
	}
}

// Notifier receives notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"op", n.Op, "record_id", n.RecordID, "id", n.ID}
	if n.Level == LevelError {
		logger.Error(n.Message, append(attrs, "kind", n.Kind, "retryable", n.Retryable)...)
		return
	}
	logger.Info(n.Message, attrs...)
}

// Publisher is the subset of *nats.Conn used by NATSNotifier.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSNotifier publishes notifications as JSON to "<prefix>.<level>".
type NATSNotifier struct {
	conn   Publisher
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier creates a notifier publishing on conn under prefix, e.g.
// "reliefdesk.notify".
func NewNATSNotifier(conn Publisher, prefix string, logger *slog.Logger) *NATSNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject a notification of level is published on.
func (p *NATSNotifier) Subject(level Level) string {
	return fmt.Sprintf("%s.%s", p.prefix, level)
}

// Notify implements Notifier. Publish failures are logged, not returned:
// a lost toast must not fail the mutation it reports on.
func (p *NATSNotifier) Notify(_ context.Context, n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		p.logger.Warn("Failed to marshal notification", "id", n.ID, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(n.Level), data); err != nil {
		p.logger.Warn("Failed to publish notification", "id", n.ID, "subject", p.Subject(n.Level), "error", err)
	}
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Recorder keeps every notification in memory. Useful for tests and for
// rendering a toast history.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.all...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return Notification{}, false
	}
	return r.all[len(r.all)-1], true
}
