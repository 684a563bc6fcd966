package schemes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/warpdl/warpnet/pkg/scheme"
)

// ErrNoHandle is returned when a script does not define handle(req).
var ErrNoHandle = errors.New("script does not define a handle function")

// Script is a scheme handler implemented in JavaScript. The script must
// define handle(req) returning a string (served as text/plain), an object
// {status, contentType, headers, body}, or null for "not found".
// require() resolves relative paths against the script's directory and
// console output goes to the logger.
//
// A Script owns a single JavaScript runtime, so requests are served one
// at a time.
type Script struct {
	mu     sync.Mutex
	path   string
	vm     *goja.Runtime
	req    *require.RequireModule
	handle goja.Callable
	log    logger.Logger
}

// LoadScript compiles and runs the file at path.
func LoadScript(path string, l logger.Logger) (*Script, error) {
	l = logger.OrNop(l)
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s := &Script{path: path, log: l}

	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{l}))
	s.vm = goja.New()
	s.req = registry.Enable(s.vm)
	console.Enable(s.vm)
	if err := s.vm.Set("require", s.require(filepath.Dir(path))); err != nil {
		return nil, err
	}

	if _, err := s.vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("run %s: %w", filepath.Base(path), err)
	}
	fn, ok := goja.AssertFunction(s.vm.Get("handle"))
	if !ok {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoHandle)
	}
	s.handle = fn
	return s, nil
}

func (s *Script) require(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
			name = filepath.Join(dir, name)
		}
		v, err := s.req.Require(name)
		if err != nil {
			panic(s.vm.NewGoError(fmt.Errorf("require %s: %w", call.Argument(0).String(), err)))
		}
		return v
	}
}

func (s *Script) ServeScheme(ctx context.Context, req *scheme.Request) (*scheme.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var interrupt sync.WaitGroup
	interrupt.Add(1)
	stop := context.AfterFunc(ctx, func() {
		defer interrupt.Done()
		s.vm.Interrupt(ctx.Err())
	})
	defer func() {
		if stop() {
			interrupt.Done()
		}
		interrupt.Wait()
		s.vm.ClearInterrupt()
	}()

	v, err := s.handle(goja.Undefined(), s.requestObject(req))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(s.path), ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(s.path), err)
	}
	return s.response(v)
}

func (s *Script) requestObject(req *scheme.Request) *goja.Object {
	obj := s.vm.NewObject()
	headers := s.vm.NewObject()
	for k, vs := range req.Header {
		headers.Set(strings.ToLower(k), strings.Join(vs, ", "))
	}
	query := s.vm.NewObject()
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			query.Set(k, vs[0])
		}
	}
	p := req.URL.Path
	if p == "" {
		p = req.URL.Opaque
	}
	obj.Set("method", req.Method)
	obj.Set("url", req.URL.Redacted())
	obj.Set("scheme", req.URL.Scheme)
	obj.Set("host", req.URL.Host)
	obj.Set("path", p)
	obj.Set("query", query)
	obj.Set("headers", headers)
	obj.Set("body", string(req.Body))
	return obj
}

func (s *Script) response(v goja.Value) (*scheme.Response, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("%w: %s returned nothing", scheme.ErrNotFound, filepath.Base(s.path))
	}
	if str, ok := v.Export().(string); ok {
		return scheme.NewResponse("text/plain; charset=utf-8", []byte(str)), nil
	}
	obj := v.ToObject(s.vm)
	resp := &scheme.Response{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8"}
	if st := obj.Get("status"); st != nil && !goja.IsUndefined(st) {
		resp.Status = int(st.ToInteger())
		if resp.Status < 100 || resp.Status > 999 {
			return nil, fmt.Errorf("%s: invalid status %d", filepath.Base(s.path), resp.Status)
		}
	}
	if ct := obj.Get("contentType"); ct != nil && !goja.IsUndefined(ct) {
		resp.ContentType = ct.String()
	}
	if hv := obj.Get("headers"); hv != nil && !goja.IsUndefined(hv) && !goja.IsNull(hv) {
		h := hv.ToObject(s.vm)
		resp.Header = make(http.Header)
		for _, k := range h.Keys() {
			resp.Header.Set(k, h.Get(k).String())
		}
	}
	if b := obj.Get("body"); b != nil && !goja.IsUndefined(b) && !goja.IsNull(b) {
		switch x := b.Export().(type) {
		case goja.ArrayBuffer:
			resp.Body = x.Bytes()
		case []byte:
			resp.Body = x
		default:
			resp.Body = []byte(b.String())
		}
	}
	return resp, nil
}

type consolePrinter struct {
	log logger.Logger
}

func (p consolePrinter) Log(s string)   { p.log.Info("%s", s) }
func (p consolePrinter) Warn(s string)  { p.log.Warning("%s", s) }
func (p consolePrinter) Error(s string) { p.log.Error("%s", s) }
