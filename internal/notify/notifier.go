// internal/notify/notifier.go
// Package notify delivers engine events to connected clients. The engine
// only sees the Notifier port; the Manager binds conn ids to live websocket
// write loops.
package notify

import "context"

// Notifier fans engine events out to clients. Sends to unknown conn ids are
// silently dropped: clients tolerate gaps and resync from the turn snapshot
// on reconnect.
type Notifier interface {
	SendToConn(ctx context.Context, connID string, payload map[string]any)
	Broadcast(ctx context.Context, connIDs []string, payload map[string]any)
	CloseConn(ctx context.Context, connID string)
}
