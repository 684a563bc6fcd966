package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
	"github.com/warpdl/warpnet/internal/server"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// daemonReady is called once the control server is listening.
var daemonReady = func(net.Addr) {}

// daemonUI logs gateway warnings and declines every question, since a
// daemon has no one to ask.
type daemonUI struct {
	log logger.Logger
}

func (u daemonUI) Warn(text string) { u.log.Warning("%s", text) }

func (u daemonUI) Ask(prompt string, _ gateway.Mode) *gateway.Answer {
	u.log.Info("Declined question %q", prompt)
	return nil
}

func daemon(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "load_env", err)
		return nil
	}
	l, err := daemonLogger(e)
	if err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "logger", err)
		return nil
	}
	defer l.Close()
	if err := runDaemon(e, l); err != nil {
		common.PrintRuntimeErr(ctx, "daemon", "run", err)
	}
	return nil
}

// runDaemon serves the gateway until SIGINT, SIGTERM or gateway.shutdown,
// then shuts the gateway down and saves the cookies.
func runDaemon(e *env, l logger.Logger) error {
	sigCtx, cancelSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelSignals()

	rpcLog := l.Named("rpc")
	notifier := server.NewRPCNotifier(rpcLog)
	ui := &server.NotifyingUI{UI: daemonUI{log: l.Named("ui")}, Notifier: notifier}
	comps, err := initComponents(e, ui, l)
	if err != nil {
		return err
	}

	token, cleanup, err := daemonToken(e)
	if err != nil {
		comps.Close()
		return err
	}
	defer cleanup()

	rs := server.NewRPCServer(&server.RPCConfig{
		Secret:     token,
		Version:    currentBuildArgs.Version,
		Commit:     currentBuildArgs.Commit,
		BuildType:  currentBuildArgs.BuildType,
		CookieFile: e.dirs.CookieFile(),
		OnShutdown: cancelSignals,
	}, comps.Gateway, e.settings, notifier, rpcLog)
	srv := server.NewServer(rs, rpcLog)
	ln, err := srv.Listen(e.settings.Settings().Server.Listen)
	if err != nil {
		comps.Close()
		return err
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	daemonReady(ln.Addr())
	l.Info("Daemon started (version %s)", currentBuildArgs.Version)

	var serveErr error
	select {
	case <-sigCtx.Done():
		l.Info("Shutting down daemon...")
	case serveErr = <-served:
	}

	closeErr := comps.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warning("%v", err)
	}
	l.Info("Daemon stopped")
	return errors.Join(serveErr, closeErr)
}

// daemonLogger writes JSON logs to stderr through zap and plain lines to
// the log file in the data directory.
func daemonLogger(e *env) (logger.Logger, error) {
	st := e.settings.Settings()
	cfg := logger.DefaultZapConfig()
	cfg.Level = st.Log.Level
	cfg.Development = st.Log.Development || e.debug
	if e.debug {
		cfg.Level = "debug"
	}
	zl, err := logger.NewZapLogger(cfg)
	if err != nil {
		return nil, err
	}
	if err := appFs.MkdirAll(e.dirs.Data, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := appFs.OpenFile(e.dirs.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		zl.Warning("Log file unavailable: %v", err)
		return zl, nil
	}
	fl := logger.NewStandardLogger(log.New(f, "", log.LstdFlags), e.debug || cfg.Level == "debug")
	return &fileLogger{MultiLogger: logger.NewMultiLogger(zl, fl), f: f}, nil
}

// fileLogger closes the log file after the wrapped loggers.
type fileLogger struct {
	*logger.MultiLogger
	f afero.File
}

func (l *fileLogger) Close() error {
	err := l.MultiLogger.Close()
	return errors.Join(err, l.f.Close())
}

// daemonToken returns the bearer token for the control server. Without
// server.token a random one is written to the token file for local
// clients and removed by cleanup.
func daemonToken(e *env) (token string, cleanup func(), err error) {
	if t := e.settings.Settings().Server.Token; t != "" {
		return t, func() {}, nil
	}
	token = uuid.NewString()
	path := e.dirs.TokenFile()
	if err := appFs.MkdirAll(e.dirs.Data, 0755); err != nil {
		return "", nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := afero.WriteFile(appFs, path, []byte(token+"\n"), 0600); err != nil {
		return "", nil, fmt.Errorf("write token file: %w", err)
	}
	return token, func() { _ = appFs.Remove(path) }, nil
}

// clientToken finds the token a client should present.
func clientToken(e *env) (string, error) {
	if t := e.settings.Settings().Server.Token; t != "" {
		return t, nil
	}
	data, err := afero.ReadFile(appFs, e.dirs.TokenFile())
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
