// Package schemes provides the built-in scheme handlers: the warp: info
// pages, ftp:/ftps: and handlers implemented as JavaScript files.
package schemes

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/warpdl/warpnet/internal/config"
	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/scheme"
)

// InfoScheme is the scheme serving internal pages.
const InfoScheme = "warp"

// Info serves warp:version, warp:cookies, warp:requests, warp:settings and
// warp:schemes. Cookie values are never rendered.
type Info struct {
	Version string
	Gateway *gateway.Gateway
	// Config is optional; warp:settings is empty without it.
	Config *config.Store
	// Now defaults to time.Now.
	Now func() time.Time
}

type page struct {
	title  string
	render func(*Info) any
}

var pages = map[string]page{
	"version":  {"Version", (*Info).versionData},
	"cookies":  {"Cookies", (*Info).cookieData},
	"requests": {"Pending requests", (*Info).requestData},
	"settings": {"Settings", (*Info).settingsData},
	"schemes":  {"Schemes", (*Info).schemeData},
}

var pageOrder = []string{"version", "cookies", "requests", "settings", "schemes"}

// pageName accepts warp:name, warp://name and warp:///name.
func pageName(u *url.URL) string {
	name := u.Opaque
	if name == "" {
		name = u.Host
	}
	if name == "" {
		name = u.Path
	}
	name = strings.Trim(name, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

func (i *Info) ServeScheme(_ context.Context, req *scheme.Request) (*scheme.Response, error) {
	name := pageName(req.URL)
	if name == "" {
		return i.render("index", "warpnet", pageOrder)
	}
	p, ok := pages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", scheme.ErrNotFound, InfoScheme, name)
	}
	return i.render(name, p.title, p.render(i))
}

func (i *Info) render(name, title string, data any) (*scheme.Response, error) {
	var buf bytes.Buffer
	err := infoTemplates.ExecuteTemplate(&buf, "layout", map[string]any{
		"Title": title,
		"Page":  name,
		"Data":  data,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return scheme.NewResponse("text/html; charset=utf-8", buf.Bytes()), nil
}

func (i *Info) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Info) versionData() any {
	return map[string]string{
		"Version":  i.Version,
		"Go":       runtime.Version(),
		"Platform": runtime.GOOS + "/" + runtime.GOARCH,
	}
}

type cookieRow struct {
	Name, Domain, Path, Expires string
	Secure, HttpOnly, HostOnly  bool
}

func (i *Info) cookieData() any {
	var rows []cookieRow
	for _, c := range i.Gateway.Cookies().AllCookies() {
		rows = append(rows, cookieRow{
			Name:     c.Name,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expiry(c),
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			HostOnly: c.HostOnly,
		})
	}
	return rows
}

func expiry(c *cookiestore.Cookie) string {
	if c.IsSession() {
		return "session"
	}
	return c.Expires.UTC().Format(time.RFC1123)
}

type requestRow struct {
	ID, Method, URL, Age string
}

func (i *Info) requestData() any {
	now := i.now()
	var rows []requestRow
	for _, r := range i.Gateway.Pending() {
		req := r.Request()
		rows = append(rows, requestRow{
			ID:     r.ID(),
			Method: req.Method,
			URL:    req.URL.Redacted(),
			Age:    now.Sub(r.Created()).Round(time.Millisecond).String(),
		})
	}
	return rows
}

func (i *Info) settingsData() any {
	if i.Config == nil {
		return []config.Entry(nil)
	}
	return i.Config.Describe()
}

func (i *Info) schemeData() any {
	return i.Gateway.Schemes().Schemes()
}

var infoTemplates = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body><h1>{{.Title}}</h1>
{{- if eq .Page "index"}}{{template "index" .Data}}
{{- else if eq .Page "version"}}{{template "version" .Data}}
{{- else if eq .Page "cookies"}}{{template "cookies" .Data}}
{{- else if eq .Page "requests"}}{{template "requests" .Data}}
{{- else if eq .Page "settings"}}{{template "settings" .Data}}
{{- else if eq .Page "schemes"}}{{template "schemes" .Data}}{{end}}
</body></html>
{{define "index"}}<ul>{{range .}}<li><a href="warp:{{.}}">{{.}}</a></li>{{end}}</ul>{{end}}
{{define "version"}}<p>warpnet {{.Version}}</p><p>{{.Go}} {{.Platform}}</p>{{end}}
{{define "cookies"}}<table>
<tr><th>Name</th><th>Domain</th><th>Path</th><th>Expires</th><th>Flags</th></tr>
{{- range .}}
<tr><td>{{.Name}}</td><td>{{.Domain}}</td><td>{{.Path}}</td><td>{{.Expires}}</td><td>{{if .Secure}}secure {{end}}{{if .HttpOnly}}HttpOnly {{end}}{{if .HostOnly}}host-only{{end}}</td></tr>
{{- else}}
<tr><td colspan="5">No cookies.</td></tr>
{{- end}}
</table>{{end}}
{{define "requests"}}<table>
<tr><th>ID</th><th>Method</th><th>URL</th><th>Age</th></tr>
{{- range .}}
<tr><td>{{.ID}}</td><td>{{.Method}}</td><td>{{.URL}}</td><td>{{.Age}}</td></tr>
{{- else}}
<tr><td colspan="4">No pending requests.</td></tr>
{{- end}}
</table>{{end}}
{{define "settings"}}<table>
{{- range .}}
<tr><td>{{.Name}}</td><td>{{.Value}}</td></tr>
{{- end}}
</table>{{end}}
{{define "schemes"}}<ul>{{range .}}<li>{{.}}</li>{{end}}</ul>{{end}}
`))
