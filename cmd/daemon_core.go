package cmd

import (
	"fmt"

	"github.com/warpdl/warpnet/internal/prompt"
	"github.com/warpdl/warpnet/internal/schemes"
	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/credman"
	"github.com/warpdl/warpnet/pkg/credman/keyring"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/warpdl/warpnet/pkg/scheme"
)

// newKeyStore returns the primary store for the credential key.
var newKeyStore = func() keyring.KeyStore { return keyring.NewKeyring() }

// Components holds the gateway and everything it was built from. The
// same wiring serves the daemon and one-shot CLI commands.
type Components struct {
	Cookies     *cookiestore.Store
	Credentials *credman.Manager
	Schemes     *scheme.Registry
	Gateway     *gateway.Gateway

	env *env
	log logger.Logger
}

// Close shuts the gateway down and saves the cookies. It returns the
// save error, if any.
func (c *Components) Close() error {
	n := c.Gateway.Shutdown()
	if n > 0 {
		c.log.Info("Aborted %d pending requests", n)
	}
	if err := c.env.saveCookies(c.Cookies); err != nil {
		c.log.Error("Cookie save failed: %v", err)
		return err
	}
	return nil
}

// initComponents builds the gateway for e. ui answers its questions and
// l receives the logs of every component.
func initComponents(e *env, ui gateway.UI, l logger.Logger) (*Components, error) {
	l = logger.OrNop(l)
	initLog := l.Named("init")

	cookies, err := e.loadCookies()
	if err != nil {
		initLog.Error("Cookie store initialization failed: %v", err)
		return nil, err
	}

	var creds gateway.CredentialCache
	var cm *credman.Manager
	if e.settings.RememberCredentials() {
		cm, err = credentialManager(e, initLog)
		if err != nil {
			initLog.Warning("Credential cache disabled: %v", err)
		} else {
			creds = prompt.NewCredentialCache(cm, e.settings.RememberCredentials, l.Named("credentials"))
		}
	}

	st := e.settings.Settings()
	transport, err := gateway.NewHTTPTransport(gateway.TransportOptions{
		Proxy:  st.Network.Proxy,
		Now:    now,
		Logger: l.Named("network"),
	})
	if err != nil {
		initLog.Error("Transport initialization failed: %v", err)
		return nil, err
	}

	registry := scheme.NewRegistry(l.Named("schemes"))
	gw, err := gateway.New(gateway.Options{
		SSLAvailable: true,
		Config:       e.settings,
		UI:           ui,
		Credentials:  creds,
		Cookies:      cookies,
		Schemes:      registry,
		Transport:    transport,
		Logger:       l.Named("network"),
	})
	if err != nil {
		initLog.Error("Gateway initialization failed: %v", err)
		return nil, err
	}

	info := &schemes.Info{
		Version: currentBuildArgs.Version,
		Gateway: gw,
		Config:  e.settings,
		Now:     now,
	}
	ftp := &schemes.FTP{Log: l.Named("ftp")}
	if err := schemes.Register(registry, info, ftp, st.Schemes.Scripts, l.Named("schemes")); err != nil {
		// Broken scripts are skipped; the rest of the gateway still works.
		initLog.Warning("Some scheme scripts were not registered: %v", err)
	}

	return &Components{
		Cookies:     cookies,
		Credentials: cm,
		Schemes:     registry,
		Gateway:     gw,
		env:         e,
		log:         initLog,
	}, nil
}

// credentialManager opens the encrypted credential file. The key lives in
// the OS keyring, or in a key file next to the credentials when no
// keyring is reachable.
func credentialManager(e *env, l logger.Logger) (*credman.Manager, error) {
	key, err := keyring.Resolve(newKeyStore(), keyring.NewFileKeyStore(appFs, e.dirs.KeyFile()), l)
	if err != nil {
		return nil, fmt.Errorf("credential key: %w", err)
	}
	return credman.NewManager(appFs, e.dirs.CredentialsFile(), key)
}
