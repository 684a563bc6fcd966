package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/logger"
)

// Push notification methods.
const (
	notifyWarning         = "ui.warning"
	notifyRequestFinished = "gateway.requestFinished"
	notifyConfigChanged   = "config.changed"
)

// RPCNotifier maintains a set of connected jrpc2 WebSocket servers
// and broadcasts push notifications to all of them.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logger.Logger
}

// NewRPCNotifier creates a new notifier.
func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	return &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		log:     logger.OrNop(l),
	}
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast sends a push notification to all registered servers.
// Servers that fail to receive (e.g., disconnected) are unregistered.
func (n *RPCNotifier) Broadcast(method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), method, params); err != nil {
			n.log.Debug("RPC push %s failed: %v", method, err)
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// WarningNotification carries a gateway warning to websocket clients.
type WarningNotification struct {
	Message string `json:"message"`
}

// RequestFinishedNotification is sent when a gateway.fetch call completes.
type RequestFinishedNotification struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ConfigChangedNotification is sent after config.set.
type ConfigChangedNotification struct {
	Name string `json:"name"`
}

// NotifyingUI forwards gateway warnings to websocket clients before
// handing them to the wrapped UI. Questions go to the wrapped UI only;
// without one every question is declined.
type NotifyingUI struct {
	UI       gateway.UI
	Notifier *RPCNotifier
}

func (u *NotifyingUI) Warn(text string) {
	if u.Notifier != nil {
		u.Notifier.Broadcast(notifyWarning, &WarningNotification{Message: text})
	}
	if u.UI != nil {
		u.UI.Warn(text)
	}
}

func (u *NotifyingUI) Ask(prompt string, mode gateway.Mode) *gateway.Answer {
	if u.UI == nil {
		return nil
	}
	return u.UI.Ask(prompt, mode)
}

var _ gateway.UI = (*NotifyingUI)(nil)
