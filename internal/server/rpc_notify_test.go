package server

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/creachadair/jrpc2/handler"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/logger"
)

// newTestServer creates a jrpc2 server with push support backed by an
// io.Pipe-based channel. Returns the client channel (for draining), the
// server, and a cleanup function. The client channel must be drained or
// closed to avoid blocking the server's push operations.
func newTestServer(t *testing.T) (channel.Channel, *jrpc2.Server, func()) {
	t.Helper()
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	cli := channel.Line(cr, cw)
	srvCh := channel.Line(sr, sw)

	srv := jrpc2.NewServer(handler.Map{}, &jrpc2.ServerOptions{AllowPush: true})
	srv.Start(srvCh)

	cleanup := func() {
		cli.Close()
		_ = srv.Wait()
	}
	return cli, srv, cleanup
}

func TestRPCNotifierRegistration(t *testing.T) {
	n := NewRPCNotifier(logger.NewMockLogger())
	if n.Count() != 0 {
		t.Fatalf("new notifier has %d servers", n.Count())
	}
	// Nothing registered: a push goes nowhere.
	n.Broadcast(notifyConfigChanged, &ConfigChangedNotification{Name: "log.level"})

	var servers []*jrpc2.Server
	for i := 0; i < 3; i++ {
		cli, srv, cleanup := newTestServer(t)
		defer cleanup()
		_ = cli
		servers = append(servers, srv)
		n.Register(srv)
	}
	n.Register(servers[0])
	if n.Count() != 3 {
		t.Fatalf("expected 3 servers, got %d", n.Count())
	}

	n.Unregister(servers[1])
	n.Unregister(servers[1])
	if n.Count() != 2 {
		t.Fatalf("expected 2 servers after unregister, got %d", n.Count())
	}
}

func TestRPCNotifier_Broadcast_Success(t *testing.T) {
	n := NewRPCNotifier(nil)
	cli, srv, cleanup := newTestServer(t)
	defer cleanup()

	n.Register(srv)

	// Drain the notification in a goroutine since the channel is synchronous
	done := make(chan []byte, 1)
	go func() {
		data, _ := cli.Recv()
		done <- data
	}()

	// Broadcast should succeed (server is connected)
	n.Broadcast(notifyWarning, &WarningNotification{Message: "certificate expired"})

	// Wait for the notification to be received
	<-done

	// Server should still be registered
	if n.Count() != 1 {
		t.Fatalf("expected 1 server after successful broadcast, got %d", n.Count())
	}
}

func TestRPCNotifier_Broadcast_DisconnectedServer(t *testing.T) {
	n := NewRPCNotifier(logger.NewNopLogger())

	cli, srv, _ := newTestServer(t)

	n.Register(srv)

	// Close the client side to simulate disconnect
	cli.Close()
	_ = srv.Wait()

	// Broadcast should remove the failed server
	n.Broadcast(notifyRequestFinished, &RequestFinishedNotification{
		ID:    "req-1",
		URL:   "https://example.com/",
		Error: "connection lost",
	})

	if n.Count() != 0 {
		t.Fatalf("expected 0 servers after disconnect, got %d", n.Count())
	}
}

func TestRPCNotifier_Broadcast_MultipleServers(t *testing.T) {
	n := NewRPCNotifier(nil)

	cli1, srv1, cleanup1 := newTestServer(t)
	defer cleanup1()
	cli2, srv2, cleanup2 := newTestServer(t)
	defer cleanup2()

	n.Register(srv1)
	n.Register(srv2)

	if n.Count() != 2 {
		t.Fatalf("expected 2 servers, got %d", n.Count())
	}

	// Drain notifications concurrently
	done := make(chan struct{}, 2)
	go func() { _, _ = cli1.Recv(); done <- struct{}{} }()
	go func() { _, _ = cli2.Recv(); done <- struct{}{} }()

	n.Broadcast(notifyConfigChanged, &ConfigChangedNotification{Name: "cookies.accept"})

	<-done
	<-done

	// Both should still be registered
	if n.Count() != 2 {
		t.Fatalf("expected 2 servers after broadcast, got %d", n.Count())
	}
}

func TestRPCNotifier_Broadcast_PartialFailure(t *testing.T) {
	n := NewRPCNotifier(logger.NewNopLogger())

	// Server 1: stays connected
	cli1, srv1, cleanup1 := newTestServer(t)
	defer cleanup1()

	// Server 2: will be disconnected
	cli2, srv2, _ := newTestServer(t)

	n.Register(srv1)
	n.Register(srv2)

	// Disconnect server 2
	cli2.Close()
	_ = srv2.Wait()

	// Drain notification from server 1 concurrently
	done := make(chan struct{}, 1)
	go func() { _, _ = cli1.Recv(); done <- struct{}{} }()

	// Broadcast should succeed for srv1 and remove srv2
	n.Broadcast(notifyRequestFinished, &RequestFinishedNotification{
		ID:     "req-2",
		URL:    "https://example.com/",
		Status: 200,
	})

	<-done

	if n.Count() != 1 {
		t.Fatalf("expected 1 server after partial failure, got %d", n.Count())
	}
}

func TestRPCNotifier_ConcurrentRegisterUnregister(t *testing.T) {
	n := NewRPCNotifier(logger.NewNopLogger())
	var wg sync.WaitGroup

	// Concurrent register/unregister should not race
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cli, srv, _ := newTestServer(t)

			n.Register(srv)
			_ = n.Count()
			n.Unregister(srv)

			cli.Close()
			_ = srv.Wait()
		}()
	}
	wg.Wait()

	if n.Count() != 0 {
		t.Fatalf("expected 0 servers after concurrent register/unregister, got %d", n.Count())
	}
}

// TestNotificationTypes verifies the notification param types can be used
// with Broadcast without errors.
func TestNotificationTypes(t *testing.T) {
	n := NewRPCNotifier(nil)
	cli, srv, cleanup := newTestServer(t)
	defer cleanup()

	n.Register(srv)

	tests := []struct {
		method string
		params any
	}{
		{notifyWarning, &WarningNotification{Message: "proxy refused"}},
		{notifyRequestFinished, &RequestFinishedNotification{ID: "r1", URL: "warp:version", Status: 200}},
		{notifyConfigChanged, &ConfigChangedNotification{Name: "network.proxy"}},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			done := make(chan []byte, 1)
			go func() {
				data, _ := cli.Recv()
				done <- data
			}()

			n.Broadcast(tt.method, tt.params)

			data := <-done
			if len(data) == 0 {
				t.Fatalf("expected notification data for %s, got empty", tt.method)
			}
		})
	}
}

type recordingUI struct {
	warnings []string
	asked    []string
}

func (u *recordingUI) Warn(text string) { u.warnings = append(u.warnings, text) }

func (u *recordingUI) Ask(prompt string, _ gateway.Mode) *gateway.Answer {
	u.asked = append(u.asked, prompt)
	return &gateway.Answer{User: "yes"}
}

func TestNotifyingUI(t *testing.T) {
	n := NewRPCNotifier(nil)
	cli, srv, cleanup := newTestServer(t)
	defer cleanup()
	n.Register(srv)

	inner := &recordingUI{}
	ui := &NotifyingUI{UI: inner, Notifier: n}

	done := make(chan []byte, 1)
	go func() {
		data, _ := cli.Recv()
		done <- data
	}()
	ui.Warn("SSL is not supported")
	data := <-done
	if !strings.Contains(string(data), notifyWarning) || !strings.Contains(string(data), "SSL is not supported") {
		t.Fatalf("notification = %s", data)
	}
	if len(inner.warnings) != 1 {
		t.Fatalf("inner warnings = %v", inner.warnings)
	}

	if a := ui.Ask("Username (realm):", gateway.ModeUserPassword); a == nil || len(inner.asked) != 1 {
		t.Fatalf("Ask not delegated: %v %v", a, inner.asked)
	}
	if a := (&NotifyingUI{}).Ask("Username (realm):", gateway.ModeUserPassword); a != nil {
		t.Fatalf("Ask without UI = %v, want nil", a)
	}
	(&NotifyingUI{}).Warn("no listeners")
}
