package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
)

// Client calls a running control server.
type Client struct {
	cli *jrpc2.Client
}

// bearerClient adds the Authorization header to every request.
type bearerClient struct {
	token string
	hc    *http.Client
}

func (b bearerClient) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", bearerPrefix+b.token)
	return b.hc.Do(req)
}

// Dial returns a client for the server listening on addr (host:port).
// No connection is made until the first call.
func Dial(addr, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	ch := jhttp.NewChannel("http://"+addr+rpcPath, &jhttp.ChannelOptions{
		Client: bearerClient{token: token, hc: hc},
	})
	return &Client{cli: jrpc2.NewClient(ch, nil)}
}

// Call invokes method and decodes its result into result.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	if err := c.cli.CallResult(ctx, method, params, result); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (*VersionResult, error) {
	var v VersionResult
	if err := c.Call(ctx, "system.getVersion", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Shutdown asks the daemon to shut its gateway down and exit.
func (c *Client) Shutdown(ctx context.Context) (int, error) {
	var res ShutdownResult
	if err := c.Call(ctx, "gateway.shutdown", nil, &res); err != nil {
		return 0, err
	}
	return res.Aborted, nil
}

// Close releases the client.
func (c *Client) Close() error {
	return c.cli.Close()
}
