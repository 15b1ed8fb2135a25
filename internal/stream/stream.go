// Package stream implements BAP's chunked result streaming:
// a result too large to return inline (full-page screenshots, large DOM
// dumps) is instead split into numbered chunks that the caller fetches
// with stream/next, and can abandon early with stream/cancel.
//
// Grounded on internal/annotation/store.go: streams are
// TTL-bounded entries in a map exactly like that store's sessionEntry/
// detailEntry, swept by the same background-ticker pattern as
// internal/session and internal/registry.
package stream

import (
	"sync"
	"time"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/util"
)

// DefaultChunkSize is the byte size of one chunk when the caller does not
// specify one explicitly.
const DefaultChunkSize = 64 * 1024

// TTL is how long an idle (not-yet-fully-consumed) stream survives
// before the sweep reclaims it.
const TTL = 5 * time.Minute

type entry struct {
	data []byte
	offset int
	chunkSize int
	expiresAt time.Time
}

// Manager owns the live stream table.
type Manager struct {
	mu sync.Mutex
	streams map[string]*entry
	nextID int64

	done chan struct{}
	closeOnce sync.Once
}

func New() *Manager {
	m := &Manager{streams: make(map[string]*entry), done: make(chan struct{})}
	util.SafeGo(func() { m.sweepLoop() })
	return m
}

func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Open registers data for chunked retrieval and returns a stream ID.
func (m *Manager) Open(data []byte, chunkSize int) string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := streamID(m.nextID)
	m.streams[id] = &entry{data: data, chunkSize: chunkSize, expiresAt: time.Now().Add(TTL)}
	return id
}

// Chunk is one slice of a stream's payload.
type Chunk struct {
	Data []byte `json:"data"`
	Offset int `json:"offset"`
	Total int `json:"total"`
	Final bool `json:"final"`
}

// Next returns the next unread chunk for id, advancing the stream's read
// offset, or a CodeStreamNotFound error if id is unknown or expired.
func (m *Manager) Next(id string) (Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.streams[id]
	if !ok || time.Now().After(e.expiresAt) {
		return Chunk{}, rpcerr.New(rpcerr.CodeStreamNotFound, "stream not found: "+id)
	}

	end := e.offset + e.chunkSize
	if end > len(e.data) {
		end = len(e.data)
	}
	chunk := Chunk{
		Data: e.data[e.offset:end],
		Offset: e.offset,
		Total: len(e.data),
		Final: end >= len(e.data),
	}
	e.offset = end
	e.expiresAt = time.Now().Add(TTL)
	if chunk.Final {
		delete(m.streams, id)
	}
	return chunk, nil
}

// Cancel abandons a stream before it is fully consumed.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[id]; !ok {
		return rpcerr.New(rpcerr.CodeStreamNotFound, "stream not found: "+id)
	}
	delete(m.streams, id)
	return nil
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, e := range m.streams {
		if now.After(e.expiresAt) {
			delete(m.streams, id)
		}
	}
}

func streamID(n int64) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "s0"
	}
	buf := make([]byte, 0, 12)
	for n > 0 {
		buf = append(buf, alphabet[n%int64(len(alphabet))])
		n /= int64(len(alphabet))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return "s" + string(buf)
}
