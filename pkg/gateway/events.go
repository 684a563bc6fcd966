package gateway

import (
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
)

// Config is the read-only view of the settings the gateway consults.
// It is queried on every request so changes apply immediately.
type Config interface {
	DoNotTrack() bool
	AcceptLanguage() string
	SSLStrict() bool
}

// StaticConfig is a fixed Config.
type StaticConfig struct {
	DNT      bool
	Language string
	Strict   bool
}

func (c StaticConfig) DoNotTrack() bool       { return c.DNT }
func (c StaticConfig) AcceptLanguage() string { return c.Language }
func (c StaticConfig) SSLStrict() bool        { return c.Strict }

// Mode selects the kind of answer Ask collects.
type Mode int

// ModeUserPassword fills both User and Password.
const ModeUserPassword Mode = iota

// Answer is what the user typed. A nil *Answer means the prompt was
// cancelled.
type Answer struct {
	User     string
	Password string
}

// UI is the user-interaction boundary: non-fatal warnings and blocking
// prompts.
type UI interface {
	Warn(text string)
	Ask(prompt string, mode Mode) *Answer
}

// CredentialCache remembers answers to authentication prompts.
// Lookup is only consulted for the first attempt of a challenge.
type CredentialCache interface {
	Lookup(host, realm string) (*Answer, bool)
	Store(host, realm string, a *Answer)
}

// Authenticator is filled in by an authentication event handler. Leaving
// it unfilled makes the transport give up on the challenge.
type Authenticator struct {
	Realm string
	// Host is the host:port of the server or proxy that sent the challenge.
	Host string
	// Attempt counts challenges for the same request, starting at 1.
	Attempt int

	user, password string
	filled         bool
}

// Fill sets the credentials.
func (a *Authenticator) Fill(user, password string) {
	a.user, a.password, a.filled = user, password, true
}

// Filled reports whether credentials were provided.
func (a *Authenticator) Filled() bool { return a.filled }

// Credentials returns the provided user name and password.
func (a *Authenticator) Credentials() (string, string) { return a.user, a.password }

// CertErrorKind classifies certificate verification failures.
type CertErrorKind int

const (
	CertUnknownAuthority CertErrorKind = iota + 1
	CertHostnameMismatch
	CertExpired
	CertNotYetValid
	CertInvalid
)

// CertError is one certificate verification failure.
type CertError struct {
	Kind CertErrorKind
	Cert *x509.Certificate
	Err  error
}

func (e CertError) Error() string {
	switch e.Kind {
	case CertExpired:
		return fmt.Sprintf("the certificate has expired (not after %s)", e.Cert.NotAfter.UTC().Format("2006-01-02"))
	case CertNotYetValid:
		return fmt.Sprintf("the certificate is not yet valid (not before %s)", e.Cert.NotBefore.UTC().Format("2006-01-02"))
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "invalid certificate"
}

func (e CertError) Unwrap() error { return e.Err }

// Events receives the notifications a transport raises while serving a
// reply. The gateway implements it.
type Events interface {
	// SSLErrors reports certificate errors for the connection serving
	// reply. Returning true proceeds despite the errors.
	SSLErrors(reply *Reply, errs []CertError) bool
	// AuthenticationRequired asks for server credentials.
	AuthenticationRequired(reply *Reply, auth *Authenticator)
	// ProxyAuthenticationRequired asks for proxy credentials.
	ProxyAuthenticationRequired(proxy *url.URL, auth *Authenticator)
}

// noEvents refuses TLS errors and leaves authenticators unfilled.
type noEvents struct{}

func (noEvents) SSLErrors(*Reply, []CertError) bool                    { return false }
func (noEvents) AuthenticationRequired(*Reply, *Authenticator)         {}
func (noEvents) ProxyAuthenticationRequired(*url.URL, *Authenticator) {}

// Transport performs network requests on behalf of the gateway.
// req carries the reply context; ev receives TLS and authentication
// events for reply.
type Transport interface {
	Do(req *http.Request, reply *Reply, ev Events) (*http.Response, error)
}

// redactedURL returns req's URL without the password, or "" if unset.
func redactedURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.Redacted()
}
