// Package audit implements BAP's append-only invocation log:
// every dispatched JSON-RPC call is recorded with its session, method,
// redacted parameters, duration, and outcome, held in a bounded in-memory
// ring buffer and unconditionally mirrored to stderr as one JSON line per
// entry for external log collection.
//
// Grounded on internal/audit/audit_trail.go: the
// append-with-FIFO-eviction buffer, the Query/filter shape, and the
// ID-generation scheme are carried over directly. The AuditTrail
// stops at in-memory storage; this adds the unconditional stderr mirror
// because BAP, unlike an MCP stdio server, runs as a long-lived process
// whose audit trail should survive a restart in an operator's log pipeline.
package audit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is a single audit record.
type Entry struct {
	ID string `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string `json:"session_id"`
	Method string `json:"method"`
	Params string `json:"params,omitempty"`
	DurationMs int64 `json:"duration_ms"`
	Success bool `json:"success"`
	ErrorCode int `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// Event names which of the closed security-event taxonomy this entry
	// represents, if any (empty for a routine successful call).
	Event string `json:"event,omitempty"`
}

// Event is the closed taxonomy of security-relevant occurrences the audit
// log names explicitly, beyond routine per-call method/success logging.
const (
	EventAuthSuccess = "AUTH_SUCCESS"
	EventAuthFailed = "AUTH_FAILED"
	EventOriginRejected = "ORIGIN_REJECTED"
	EventConnectionLimit = "CONNECTION_LIMIT"
	EventTLSRequired = "TLS_REQUIRED"
	EventAuthorizationDenied = "AUTHORIZATION_DENIED"
	EventPathTraversalAttempt = "PATH_TRAVERSAL_ATTEMPT"
	EventPathNotAllowed = "PATH_NOT_ALLOWED"
	EventPathBlocked = "PATH_BLOCKED"
	EventSelectorInjection = "SELECTOR_INJECTION"
	EventSelectorTooLong = "SELECTOR_TOO_LONG"
	EventValueRedacted = "VALUE_REDACTED"
	EventStorageStateExtracted = "STORAGE_STATE_EXTRACTED"
	EventStorageStateBlocked = "STORAGE_STATE_BLOCKED"
	EventSessionExpired = "SESSION_EXPIRED"
)

// Filter selects a subset of the buffer for Query.
type Filter struct {
	SessionID string
	Method string
	Since *time.Time
	Limit int
}

const (
	defaultMaxEntries = 10000
	defaultQueryLimit = 200
)

// Trail is a bounded, concurrent-safe, append-only audit log.
type Trail struct {
	mu sync.RWMutex
	entries []Entry
	maxSize int
	out io.Writer
	log *zap.Logger
}

// New constructs a Trail. out receives one JSON line per recorded entry
// (pass os.Stderr in production); a nil out disables the mirror but never
// the in-memory buffer.
func New(maxEntries int, out io.Writer, log *zap.Logger) *Trail {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trail{
		entries: make([]Entry, 0, maxEntries),
		maxSize: maxEntries,
		out: out,
		log: log,
	}
}

// NewStderr is the default constructor used by cmd/bap-server.
func NewStderr(log *zap.Logger) *Trail {
	return New(defaultMaxEntries, os.Stderr, log)
}

// Record appends entry (assigning ID and timestamp) to the in-memory
// buffer, evicting the oldest entry under FIFO if full, and writes it as a
// single JSON line to the configured output.
func (t *Trail) Record(entry Entry) {
	entry.ID = generateID()
	entry.Timestamp = time.Now()

	t.mu.Lock()
	if len(t.entries) >= t.maxSize {
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:len(t.entries)-1]
	}
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	if t.out == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		t.log.Warn("audit entry marshal failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintln(t.out, string(line)); err != nil {
		t.log.Warn("audit entry write failed", zap.Error(err))
	}
}

// Query returns entries matching filter, newest first.
func (t *Trail) Query(filter Filter) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var results []Entry
	for i := len(t.entries) - 1; i >= 0 && len(results) < limit; i-- {
		e := t.entries[i]
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.Method != "" && e.Method != filter.Method {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		results = append(results, e)
	}
	return results
}

func generateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

type eventCellKey struct{}

type eventCell struct {
	mu sync.Mutex
	event string
}

// ContextWithEventCell attaches a mutable event slot to ctx that a handler
// running deeper in the call can populate via RecordEvent, and the
// dispatcher reads back after the handler returns — the only channel a
// successful call (no error to carry rpcerr.WithAuditEvent) has for
// naming a taxonomy event like STORAGE_STATE_EXTRACTED.
func ContextWithEventCell(ctx context.Context) context.Context {
	return context.WithValue(ctx, eventCellKey{}, &eventCell{})
}

// RecordEvent sets ctx's event slot, if one was attached by
// ContextWithEventCell. A call with no slot (e.g. in a unit test that
// built its own bare context) is a silent no-op.
func RecordEvent(ctx context.Context, event string) {
	if cell, ok := ctx.Value(eventCellKey{}).(*eventCell); ok {
		cell.mu.Lock()
		cell.event = event
		cell.mu.Unlock()
	}
}

// EventFromContext reads back whatever RecordEvent most recently set on
// ctx's event slot, or "" if none was set.
func EventFromContext(ctx context.Context) string {
	cell, ok := ctx.Value(eventCellKey{}).(*eventCell)
	if !ok {
		return ""
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.event
}
