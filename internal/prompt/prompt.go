// Package prompt implements the gateway's user-interaction service on a
// text terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/warpdl/warpnet/pkg/gateway"
	"golang.org/x/term"
)

// Terminal prints warnings and asks questions on a line-oriented stream.
// Prompts are modal: concurrent Ask calls are answered one at a time.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
	// readSecret reads a line without echo. nil reads a plain line.
	readSecret func() (string, error)
}

// New reads answers from r and writes prompts to w. Passwords are read as
// plain lines.
func New(r io.Reader, w io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(r), out: w}
}

var isTerminal = term.IsTerminal

// NewTerminal uses in and out, hiding typed passwords when in is a
// terminal.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	t := New(in, out)
	fd := int(in.Fd())
	if isTerminal(fd) {
		t.readSecret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(t.out)
			return string(b), err
		}
	}
	return t
}

// Warn implements gateway.UI.
func (t *Terminal) Warn(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "warning: %s\n", text)
}

// Ask implements gateway.UI. It collects a user name and a password; end
// of input or an empty user name cancels.
func (t *Terminal) Ask(prompt string, _ gateway.Mode) *gateway.Answer {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, err := t.question(prompt)
	if err != nil || user == "" {
		return nil
	}
	fmt.Fprint(t.out, "Password: ")
	var password string
	if t.readSecret != nil {
		password, err = t.readSecret()
	} else {
		password, err = t.readLine()
	}
	if err != nil {
		return nil
	}
	return &gateway.Answer{User: user, Password: password}
}

func (t *Terminal) question(prompt string) (string, error) {
	fmt.Fprintf(t.out, "%s ", prompt)
	line, err := t.readLine()
	return strings.TrimSpace(line), err
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var _ gateway.UI = (*Terminal)(nil)
