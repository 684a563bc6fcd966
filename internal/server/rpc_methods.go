package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/warpdl/warpnet/internal/config"
	"github.com/warpdl/warpnet/pkg/gateway"
	"github.com/warpdl/warpnet/pkg/logger"
)

// Custom JSON-RPC error codes. The gateway codes mirror gateway.ErrorCode.
const (
	codeNotAccessible     = jrpc2.Code(-32001)
	codeProtocolUnknown   = jrpc2.Code(-32002)
	codeContentNotFound   = jrpc2.Code(-32003)
	codeHandlerFailed     = jrpc2.Code(-32004)
	codeOperationCanceled = jrpc2.Code(-32005)
	codeNetworkFailure    = jrpc2.Code(-32006)
	codeUnknownOption     = jrpc2.Code(-32010)
	codeSaveFailed        = jrpc2.Code(-32011)
	codeInvalidParams     = jrpc2.Code(-32602)
)

var gatewayCodes = map[gateway.ErrorCode]jrpc2.Code{
	gateway.CodeNotAccessible:     codeNotAccessible,
	gateway.CodeProtocolUnknown:   codeProtocolUnknown,
	gateway.CodeContentNotFound:   codeContentNotFound,
	gateway.CodeHandlerFailed:     codeHandlerFailed,
	gateway.CodeOperationCanceled: codeOperationCanceled,
}

// DefaultMaxBodySize caps the body returned by gateway.fetch.
const DefaultMaxBodySize = 16 << 20

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret    string // Auth token (required -- empty means every call is refused)
	Version   string
	Commit    string
	BuildType string
	// CookieFile is where cookies.save writes. Empty disables saving.
	CookieFile string
	// MaxBodySize defaults to DefaultMaxBodySize.
	MaxBodySize int64
	// OnShutdown runs once, in its own goroutine, after gateway.shutdown.
	OnShutdown func()
}

// RPCServer manages the JSON-RPC 2.0 bridge and method handlers.
type RPCServer struct {
	bridge   jhttp.Bridge
	methods  handler.Map
	secret   string
	version  string
	commit   string
	build    string
	cookies  string
	maxBody  int64
	gw       *gateway.Gateway
	settings *config.Store
	notifier *RPCNotifier
	log      logger.Logger
	now      func() time.Time

	onShutdown   func()
	shutdownOnce sync.Once
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// FetchParams is the input for gateway.fetch. Body is base64 on the wire.
type FetchParams struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// FetchResult is the response for gateway.fetch.
type FetchResult struct {
	ID        string      `json:"id"`
	Status    int         `json:"status"`
	Headers   http.Header `json:"headers"`
	Body      []byte      `json:"body"`
	Truncated bool        `json:"truncated,omitempty"`
}

// PendingItem is one in-flight request.
type PendingItem struct {
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	URL     string    `json:"url"`
	Created time.Time `json:"created"`
}

// PendingResult is the response for gateway.pending.
type PendingResult struct {
	Requests []*PendingItem `json:"requests"`
}

// ShutdownResult is the response for gateway.shutdown.
type ShutdownResult struct {
	Aborted int `json:"aborted"`
}

// CookieListParams filters cookies.list by domain and its subdomains.
type CookieListParams struct {
	Domain string `json:"domain,omitempty"`
}

// CookieItem describes a stored cookie. Values are never exposed.
type CookieItem struct {
	Name     string     `json:"name"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure"`
	HttpOnly bool       `json:"httpOnly"`
	HostOnly bool       `json:"hostOnly"`
}

// CookieListResult is the response for cookies.list.
type CookieListResult struct {
	Cookies []*CookieItem `json:"cookies"`
}

// CookieSaveResult is the response for cookies.save. Saved is false when
// cookie persistence is disabled.
type CookieSaveResult struct {
	Saved bool `json:"saved"`
}

// CookiePurgeResult is the response for cookies.purge.
type CookiePurgeResult struct {
	Purged int `json:"purged"`
}

// ConfigGetParams names one option as section.option. An empty name
// lists every option.
type ConfigGetParams struct {
	Name string `json:"name,omitempty"`
}

// ConfigSetParams is the input for config.set.
type ConfigSetParams struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigResult is the response for config.get and config.set.
type ConfigResult struct {
	Options []config.Entry `json:"options"`
}

// NewRPCServer creates a new RPCServer with method handlers and HTTP bridge.
func NewRPCServer(cfg *RPCConfig, gw *gateway.Gateway, settings *config.Store, n *RPCNotifier, l logger.Logger) *RPCServer {
	if n == nil {
		n = NewRPCNotifier(l)
	}
	rs := &RPCServer{
		secret:     cfg.Secret,
		version:    cfg.Version,
		commit:     cfg.Commit,
		build:      cfg.BuildType,
		cookies:    cfg.CookieFile,
		maxBody:    cfg.MaxBodySize,
		gw:         gw,
		settings:   settings,
		notifier:   n,
		log:        logger.OrNop(l),
		now:        time.Now,
		onShutdown: cfg.OnShutdown,
	}
	if rs.maxBody <= 0 {
		rs.maxBody = DefaultMaxBodySize
	}

	rs.methods = handler.Map{
		"system.getVersion": handler.New(rs.systemGetVersion),
		"gateway.fetch":     handler.New(rs.gatewayFetch),
		"gateway.pending":   handler.New(rs.gatewayPending),
		"gateway.shutdown":  handler.New(rs.gatewayShutdown),
		"cookies.list":      handler.New(rs.cookiesList),
		"cookies.save":      handler.New(rs.cookiesSave),
		"cookies.purge":     handler.New(rs.cookiesPurge),
		"config.get":        handler.New(rs.configGet),
		"config.set":        handler.New(rs.configSet),
	}

	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs
}

// Notifier returns the push notifier shared by websocket clients.
func (rs *RPCServer) Notifier() *RPCNotifier { return rs.notifier }

func (rs *RPCServer) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{
		Version:   rs.version,
		Commit:    rs.commit,
		BuildType: rs.build,
	}, nil
}

// gatewayFetch sends one request through the gateway and waits for it.
func (rs *RPCServer) gatewayFetch(ctx context.Context, p *FetchParams) (*FetchResult, error) {
	if p == nil || p.URL == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: url"}
	}
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "invalid url"}
	}
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(p.Body) > 0 {
		body = bytes.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	reply := rs.gw.Intercept(req)
	resp, err := reply.Wait(ctx)
	if err != nil {
		rs.notifier.Broadcast(notifyRequestFinished, &RequestFinishedNotification{
			ID: reply.ID(), URL: u.Redacted(), Error: err.Error(),
		})
		return nil, rpcError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, rs.maxBody+1))
	if err != nil {
		return nil, &jrpc2.Error{Code: codeNetworkFailure, Message: fmt.Sprintf("read body: %v", err)}
	}
	res := &FetchResult{
		ID:      reply.ID(),
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    data,
	}
	if int64(len(data)) > rs.maxBody {
		res.Body = data[:rs.maxBody]
		res.Truncated = true
	}
	rs.notifier.Broadcast(notifyRequestFinished, &RequestFinishedNotification{
		ID: reply.ID(), URL: u.Redacted(), Status: resp.StatusCode,
	})
	return res, nil
}

func (rs *RPCServer) gatewayPending(_ context.Context) (*PendingResult, error) {
	pending := rs.gw.Pending()
	res := &PendingResult{Requests: make([]*PendingItem, 0, len(pending))}
	for _, r := range pending {
		req := r.Request()
		item := &PendingItem{ID: r.ID(), Method: req.Method, Created: r.Created()}
		if req.URL != nil {
			item.URL = req.URL.Redacted()
		}
		res.Requests = append(res.Requests, item)
	}
	return res, nil
}

// gatewayShutdown aborts in-flight requests and disables the gateway.
func (rs *RPCServer) gatewayShutdown(_ context.Context) (*ShutdownResult, error) {
	n := rs.gw.Shutdown()
	if rs.onShutdown != nil {
		rs.shutdownOnce.Do(func() { go rs.onShutdown() })
	}
	return &ShutdownResult{Aborted: n}, nil
}

func (rs *RPCServer) cookiesList(_ context.Context, p *CookieListParams) (*CookieListResult, error) {
	domain := ""
	if p != nil {
		domain = strings.ToLower(strings.TrimPrefix(p.Domain, "."))
	}
	res := &CookieListResult{Cookies: []*CookieItem{}}
	for _, c := range rs.gw.Cookies().AllCookies() {
		if domain != "" && c.Domain != domain && !strings.HasSuffix(c.Domain, "."+domain) {
			continue
		}
		item := &CookieItem{
			Name:     c.Name,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			HostOnly: c.HostOnly,
		}
		if !c.IsSession() {
			exp := c.Expires
			item.Expires = &exp
		}
		res.Cookies = append(res.Cookies, item)
	}
	sort.SliceStable(res.Cookies, func(i, j int) bool {
		return res.Cookies[i].Domain < res.Cookies[j].Domain
	})
	return res, nil
}

func (rs *RPCServer) cookiesSave(_ context.Context) (*CookieSaveResult, error) {
	if rs.cookies == "" {
		return nil, &jrpc2.Error{Code: codeSaveFailed, Message: "no cookie file configured"}
	}
	persist := rs.settings.PersistCookies()
	if err := rs.gw.Cookies().Save(rs.cookies, persist); err != nil {
		rs.log.Error("Failed to save cookies: %v", err)
		return nil, &jrpc2.Error{Code: codeSaveFailed, Message: err.Error()}
	}
	return &CookieSaveResult{Saved: persist}, nil
}

func (rs *RPCServer) cookiesPurge(_ context.Context) (*CookiePurgeResult, error) {
	return &CookiePurgeResult{Purged: rs.gw.Cookies().PurgeExpired(rs.now())}, nil
}

func (rs *RPCServer) configGet(_ context.Context, p *ConfigGetParams) (*ConfigResult, error) {
	if p == nil || p.Name == "" {
		return &ConfigResult{Options: rs.settings.Describe()}, nil
	}
	section, option, err := splitOption(p.Name)
	if err != nil {
		return nil, err
	}
	e, err := rs.settings.Show(section, option)
	if err != nil {
		return nil, configError(err)
	}
	return &ConfigResult{Options: []config.Entry{e}}, nil
}

// configSet changes one option and writes the config file when the
// settings were loaded from one.
func (rs *RPCServer) configSet(_ context.Context, p *ConfigSetParams) (*ConfigResult, error) {
	if p == nil {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: name"}
	}
	section, option, err := splitOption(p.Name)
	if err != nil {
		return nil, err
	}
	if err := rs.settings.Set(section, option, p.Value); err != nil {
		return nil, configError(err)
	}
	if rs.settings.Path() != "" {
		if err := rs.settings.Save(); err != nil {
			rs.log.Error("Failed to save config: %v", err)
			return nil, &jrpc2.Error{Code: codeSaveFailed, Message: err.Error()}
		}
	}
	e, err := rs.settings.Show(section, option)
	if err != nil {
		return nil, configError(err)
	}
	rs.log.Info("Set %s", e.Name)
	rs.notifier.Broadcast(notifyConfigChanged, &ConfigChangedNotification{Name: e.Name})
	return &ConfigResult{Options: []config.Entry{e}}, nil
}

func splitOption(name string) (string, string, error) {
	section, option, ok := strings.Cut(name, ".")
	if !ok || section == "" || option == "" {
		return "", "", &jrpc2.Error{Code: codeInvalidParams, Message: fmt.Sprintf("invalid option name %q (expected section.option)", name)}
	}
	return section, option, nil
}

func configError(err error) *jrpc2.Error {
	var unknown *config.UnknownOptionError
	if errors.As(err, &unknown) {
		return &jrpc2.Error{Code: codeUnknownOption, Message: err.Error()}
	}
	return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
}

// rpcError maps a gateway failure onto a JSON-RPC error.
func rpcError(err error) *jrpc2.Error {
	code, ok := gatewayCodes[gateway.CodeOf(err)]
	if !ok {
		code = codeNetworkFailure
	}
	return &jrpc2.Error{Code: code, Message: err.Error()}
}

// Close shuts down the jrpc2 bridge, releasing internal goroutines.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
}
