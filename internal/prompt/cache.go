package prompt

import (
	"errors"

	"github.com/warpdl/warpnet/pkg/credman"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/logger"
)

// CredentialCache adapts a credman.Manager to gateway.CredentialCache.
// Nothing is read or written while enabled returns false.
type CredentialCache struct {
	m       *credman.Manager
	enabled func() bool
	log     logger.Logger
}

// NewCredentialCache returns a cache over m. A nil enabled func means
// always enabled.
func NewCredentialCache(m *credman.Manager, enabled func() bool, l logger.Logger) *CredentialCache {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &CredentialCache{m: m, enabled: enabled, log: logger.OrNop(l)}
}

func (c *CredentialCache) Lookup(host, realm string) (*gateway.Answer, bool) {
	if !c.enabled() {
		return nil, false
	}
	cred, err := c.m.Get(host, realm)
	if err != nil {
		if !errors.Is(err, credman.ErrNotFound) {
			c.log.Warning("Stored credentials for %s unusable: %v", host, err)
		}
		return nil, false
	}
	c.log.Debug("Using stored credentials for %s (%s)", host, realm)
	return &gateway.Answer{User: cred.User, Password: cred.Password}, true
}

func (c *CredentialCache) Store(host, realm string, a *gateway.Answer) {
	if a == nil || !c.enabled() {
		return
	}
	err := c.m.Set(credman.Credential{Host: host, Realm: realm, User: a.User, Password: a.Password})
	if err != nil {
		c.log.Warning("Could not remember credentials for %s: %v", host, err)
	}
}

var _ gateway.CredentialCache = (*CredentialCache)(nil)
