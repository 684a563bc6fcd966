package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
	"github.com/warpdl/warpnet/internal/server"
)

const stopTimeout = 10 * time.Second

func stop(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "stop", "load_env", err)
		return nil
	}
	addr := e.settings.Settings().Server.Listen
	token, err := clientToken(e)
	if err != nil {
		fmt.Fprintf(stdout, "Daemon is not running (%v)\n", err)
		return nil
	}

	c := server.Dial(addr, token, &http.Client{Timeout: stopTimeout})
	defer c.Close()
	cctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	v, err := c.Version(cctx)
	if err != nil {
		fmt.Fprintf(stdout, "Daemon is not reachable at %s: %v\n", addr, err)
		return nil
	}
	fmt.Fprintf(stdout, "Stopping daemon %s at %s...\n", v.Version, addr)
	aborted, err := c.Shutdown(cctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "stop", "shutdown", err)
		return nil
	}
	fmt.Fprintf(stdout, "Daemon stopped (%d pending requests aborted)\n", aborted)
	return nil
}
