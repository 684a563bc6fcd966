package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TLSError is returned when a connection is refused because of
// certificate errors.
type TLSError struct {
	Host   string
	Errors []CertError
}

func (e *TLSError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ce := range e.Errors {
		msgs[i] = ce.Error()
	}
	return fmt.Sprintf("certificate verification failed for %s: %s", e.Host, strings.Join(msgs, "; "))
}

type dialInfoKey struct{}

type dialInfo struct {
	reply *Reply
	ev    Events
}

func withDialInfo(ctx context.Context, reply *Reply, ev Events) context.Context {
	return context.WithValue(ctx, dialInfoKey{}, dialInfo{reply: reply, ev: ev})
}

func dialInfoFrom(ctx context.Context) dialInfo {
	if di, ok := ctx.Value(dialInfoKey{}).(dialInfo); ok && di.ev != nil {
		return di
	}
	return dialInfo{ev: noEvents{}}
}

// verifyPeer checks the server certificate of cs for host and returns
// every problem found. Hostname, validity period and chain are checked
// separately so each failure is reported on its own.
func verifyPeer(cs tls.ConnectionState, host string, roots *x509.CertPool, now time.Time) []CertError {
	certs := cs.PeerCertificates
	if len(certs) == 0 {
		return []CertError{{Kind: CertInvalid, Err: errors.New("the server presented no certificate")}}
	}
	leaf := certs[0]
	var errs []CertError

	if err := leaf.VerifyHostname(host); err != nil {
		errs = append(errs, CertError{Kind: CertHostnameMismatch, Cert: leaf, Err: err})
	}

	at := now
	switch {
	case now.Before(leaf.NotBefore):
		errs = append(errs, CertError{Kind: CertNotYetValid, Cert: leaf})
		at = leaf.NotBefore
	case now.After(leaf.NotAfter):
		errs = append(errs, CertError{Kind: CertExpired, Cert: leaf})
		at = leaf.NotAfter
	}

	// The leaf's validity was reported above; verify the chain at a time
	// the leaf is valid so it is not reported twice.
	inter := x509.NewCertPool()
	for _, c := range certs[1:] {
		inter.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   at,
	})
	if err != nil {
		kind := CertInvalid
		var ua x509.UnknownAuthorityError
		if errors.As(err, &ua) {
			kind = CertUnknownAuthority
		}
		errs = append(errs, CertError{Kind: kind, Cert: leaf, Err: err})
	}
	return errs
}
