package schemes

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/warpdl/warpnet/pkg/scheme"
)

const (
	defaultFTPTimeout = 30 * time.Second
	// DefaultFTPMaxSize bounds the body of a synthetic FTP response.
	DefaultFTPMaxSize = 64 << 20
)

// ErrTooLarge is returned when a file exceeds the handler's MaxSize.
var ErrTooLarge = errors.New("file too large")

// FTP serves ftp: and ftps: URLs by downloading the file, or listing the
// directory, into a synthetic response. Credentials come from the URL
// userinfo and default to anonymous; they are never logged.
type FTP struct {
	Timeout time.Duration
	MaxSize int64
	// TLSConfig is cloned for ftps: connections. ServerName is filled in
	// from the URL.
	TLSConfig *tls.Config
	Log       logger.Logger
}

func (f *FTP) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return defaultFTPTimeout
}

func (f *FTP) maxSize() int64 {
	if f.MaxSize > 0 {
		return f.MaxSize
	}
	return DefaultFTPMaxSize
}

func (f *FTP) ServeScheme(ctx context.Context, req *scheme.Request) (*scheme.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return &scheme.Response{
			Status:      http.StatusMethodNotAllowed,
			ContentType: "text/plain; charset=utf-8",
			Header:      http.Header{"Allow": {"GET, HEAD"}},
			Body:        []byte("method not allowed\n"),
		}, nil
	}
	log := logger.OrNop(f.Log)
	u := req.URL
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}
	conn, err := f.connect(ctx, u.Scheme == "ftps", host, u.Hostname(), u.User)
	if err != nil {
		return nil, fmt.Errorf("ftp %s: %w", host, err)
	}
	defer conn.Quit()

	p := u.Path
	if p == "" {
		p = "/"
	}
	log.Debug("FTP %s %s%s", req.Method, host, p)
	if strings.HasSuffix(p, "/") {
		return f.list(conn, p, req.Method)
	}
	resp, err := f.retrieve(conn, p, req.Method)
	if err == nil || !isFTPCode(err, ftp.StatusFileUnavailable) {
		return resp, err
	}
	// RETR refuses directories with 550 too.
	if conn.ChangeDir(p) != nil {
		return nil, fmt.Errorf("%w: %s", scheme.ErrNotFound, p)
	}
	return f.list(conn, p+"/", req.Method)
}

func (f *FTP) connect(ctx context.Context, useTLS bool, addr, hostname string, user *url.Userinfo) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithTimeout(f.timeout()),
		ftp.DialWithContext(ctx),
	}
	if useTLS {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if f.TLSConfig != nil {
			cfg = f.TLSConfig.Clone()
		}
		cfg.ServerName = hostname
		opts = append(opts, ftp.DialWithExplicitTLS(cfg))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, err
	}
	name, password := "anonymous", "anonymous"
	if user != nil {
		name = user.Username()
		if pw, ok := user.Password(); ok {
			password = pw
		}
	}
	if err := conn.Login(name, password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("login: %w", err)
	}
	return conn, nil
}

func (f *FTP) retrieve(conn *ftp.ServerConn, p, method string) (*scheme.Response, error) {
	ctype := mime.TypeByExtension(path.Ext(p))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	if method == http.MethodHead {
		size, err := conn.FileSize(p)
		if err != nil {
			return nil, err
		}
		if size > f.maxSize() {
			return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
		}
		return scheme.NewResponse(ctype, nil), nil
	}
	r, err := conn.Retr(p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	body, err := io.ReadAll(io.LimitReader(r, f.maxSize()+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(body)) > f.maxSize() {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxSize())
	}
	return scheme.NewResponse(ctype, body), nil
}

type listingEntry struct {
	Name, Href, Size, Modified string
	Dir                        bool
}

func (f *FTP) list(conn *ftp.ServerConn, dir, method string) (*scheme.Response, error) {
	entries, err := conn.List(dir)
	if err != nil {
		if isFTPCode(err, ftp.StatusFileUnavailable) {
			return nil, fmt.Errorf("%w: %s", scheme.ErrNotFound, dir)
		}
		return nil, err
	}
	rows := make([]listingEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		row := listingEntry{Name: e.Name, Href: e.Name, Modified: e.Time.UTC().Format(time.DateTime)}
		switch e.Type {
		case ftp.EntryTypeFolder:
			row.Dir = true
			row.Href += "/"
		default:
			row.Size = fmt.Sprint(e.Size)
		}
		rows = append(rows, row)
	}
	if method == http.MethodHead {
		return scheme.NewResponse("text/html; charset=utf-8", nil), nil
	}
	var buf bytes.Buffer
	if err := listingTemplate.Execute(&buf, map[string]any{"Dir": dir, "Entries": rows}); err != nil {
		return nil, fmt.Errorf("render listing: %w", err)
	}
	return scheme.NewResponse("text/html; charset=utf-8", buf.Bytes()), nil
}

func isFTPCode(err error, code int) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == code
}

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Index of {{.Dir}}</title></head>
<body><h1>Index of {{.Dir}}</h1>
<table>
{{- if ne .Dir "/"}}
<tr><td><a href="../">../</a></td><td></td><td></td></tr>
{{- end}}
{{- range .Entries}}
<tr><td><a href="{{.Href}}">{{.Name}}{{if .Dir}}/{{end}}</a></td><td>{{.Size}}</td><td>{{.Modified}}</td></tr>
{{- end}}
</table>
</body></html>
`))
