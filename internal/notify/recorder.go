// internal/notify/recorder.go
package notify

import (
	"context"
	"sync"
)

// Recorder is a Notifier that captures payloads instead of delivering them.
// The service test suites assert broadcast ordering against it.
type Recorder struct {
	mu     sync.Mutex
	all    []map[string]any
	byConn map[string][]map[string]any
	closed []string
}

// NewRecorder builds an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{byConn: make(map[string][]map[string]any)}
}

func (r *Recorder) SendToConn(_ context.Context, connID string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, payload)
	r.byConn[connID] = append(r.byConn[connID], payload)
}

func (r *Recorder) Broadcast(ctx context.Context, connIDs []string, payload map[string]any) {
	r.mu.Lock()
	r.all = append(r.all, payload)
	for _, connID := range connIDs {
		r.byConn[connID] = append(r.byConn[connID], payload)
	}
	r.mu.Unlock()
}

func (r *Recorder) CloseConn(_ context.Context, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, connID)
}

// All returns every payload in emission order.
func (r *Recorder) All() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.all...)
}

// For returns the payloads delivered to one conn, in order.
func (r *Recorder) For(connID string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.byConn[connID]...)
}

// Types returns the emission-ordered "type" fields of every payload.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.all))
	for _, payload := range r.all {
		t, _ := payload["type"].(string)
		out = append(out, t)
	}
	return out
}

// OfType returns every payload whose "type" field matches.
func (r *Recorder) OfType(msgType string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, payload := range r.all {
		if t, _ := payload["type"].(string); t == msgType {
			out = append(out, payload)
		}
	}
	return out
}

// Last returns the most recent payload, or nil.
func (r *Recorder) Last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.all) == 0 {
		return nil
	}
	return r.all[len(r.all)-1]
}

// Closed returns the conn ids CloseConn was called with.
func (r *Recorder) Closed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

// Reset clears all captured payloads.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = nil
	r.byConn = make(map[string][]map[string]any)
	r.closed = nil
}
