package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/warpdl/warpnet/cmd/common"
	"github.com/warpdl/warpnet/internal/prompt"
	"github.com/warpdl/warpnet/pkg/gateway"
)

var fetchFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "method, X",
		Usage: "request method",
		Value: http.MethodGet,
	},
	cli.StringSliceFlag{
		Name:  "header, H",
		Usage: `extra request header as "Name: value", repeatable`,
	},
	cli.StringFlag{
		Name:  "output, o",
		Usage: "write the body to `FILE` instead of stdout",
	},
}

// fetchUI builds the UI used for one-shot fetches.
var fetchUI = func() gateway.UI { return prompt.NewTerminal(os.Stdin, stderr) }

func fetch(ctx *cli.Context) error {
	raw := ctx.Args().First()
	if raw == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no url provided"))
	}
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "fetch", "load_env", err)
		return nil
	}
	req, err := newFetchRequest(ctx.String("method"), raw, ctx.StringSlice("header"))
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}

	comps, err := initComponents(e, fetchUI(), e.log)
	if err != nil {
		common.PrintRuntimeErr(ctx, "fetch", "init", err)
		return nil
	}
	defer comps.Close()

	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	resp, err := comps.Gateway.RoundTrip(req.WithContext(sigCtx))
	if err != nil {
		return fmt.Errorf("fetch %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	out := ctx.String("output")
	if out == "" {
		if _, err := io.Copy(stdout, resp.Body); err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	} else if err := writeBody(out, resp); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

// newFetchRequest builds the request for fetch. Headers take the curl
// form "Name: value".
func newFetchRequest(method, raw string, hdrs []string) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(strings.ToUpper(method), raw, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if req.URL.Scheme == "" {
		return nil, fmt.Errorf("url %q has no scheme", raw)
	}
	for _, h := range hdrs {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q", h)
		}
		req.Header.Add(name, strings.TrimSpace(value))
	}
	return req, nil
}

// writeBody copies the response body into path with a progress bar on
// stderr.
func writeBody(path string, resp *http.Response) error {
	f, err := appFs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	p := mpb.New(mpb.WithOutput(stderr), mpb.WithWidth(64))
	bar := common.InitBar(p, filepath.Base(path), resp.ContentLength)
	body := bar.ProxyReader(resp.Body)
	defer body.Close()

	_, err = io.Copy(f, body)
	if err != nil {
		bar.Abort(false)
		p.Wait()
		return fmt.Errorf("write %s: %w", path, err)
	}
	bar.SetTotal(-1, true)
	p.Wait()
	return nil
}
