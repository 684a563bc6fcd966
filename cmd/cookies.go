package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
	"github.com/warpdl/warpnet/internal/cookies"
	"github.com/warpdl/warpnet/pkg/cookiestore"
)

var cookieDomainFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "domain",
		Usage: "only cookies for `DOMAIN` and its subdomains",
	},
}

func cookiesList(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load_env", err)
		return nil
	}
	store, err := e.loadCookies()
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load", err)
		return nil
	}
	domain := strings.ToLower(strings.TrimPrefix(ctx.String("domain"), "."))
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	common.Fprintf(tw, "NAME\tDOMAIN\tPATH\tEXPIRES\tFLAGS\n")
	n := 0
	for _, c := range store.AllCookies() {
		if domain != "" && c.Domain != domain && !strings.HasSuffix(c.Domain, "."+domain) {
			continue
		}
		common.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Domain, c.Path, common.FormatExpiry(c.Expires), cookieFlags(c))
		n++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\n%d cookies\n", n)
	return nil
}

func cookieFlags(c *cookiestore.Cookie) string {
	var flags []string
	if c.Secure {
		flags = append(flags, "secure")
	}
	if c.HttpOnly {
		flags = append(flags, "httponly")
	}
	if c.HostOnly {
		flags = append(flags, "hostonly")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func cookiesPurge(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load_env", err)
		return nil
	}
	store, err := e.loadCookies()
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load", err)
		return nil
	}
	n := store.PurgeExpired(now())
	if err := e.saveCookies(store); err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "save", err)
		return nil
	}
	fmt.Fprintf(stdout, "Purged %d expired cookies\n", n)
	return nil
}

func cookiesImport(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no cookie file provided"))
	}
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load_env", err)
		return nil
	}
	store, err := e.loadCookies()
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load", err)
		return nil
	}
	n, src, err := cookies.Import(store, path, ctx.String("domain"), now(), e.log.Named("cookies"))
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "import", err)
		return nil
	}
	if !e.settings.PersistCookies() {
		fmt.Fprintf(stdout, "Read %d cookies from %s (%s) but cookies.store is off, nothing saved\n", n, src.Path, src.Format)
		return nil
	}
	if err := e.saveCookies(store); err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "save", err)
		return nil
	}
	fmt.Fprintf(stdout, "Imported %d cookies from %s (%s)\n", n, src.Path, src.Format)
	return nil
}

// cookiesClear removes the cookie file, whatever cookies.store says.
func cookiesClear(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load_env", err)
		return nil
	}
	if err := appFs.Remove(e.dirs.CookieFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		common.PrintRuntimeErr(ctx, "cookies", "clear", err)
		return nil
	}
	fmt.Fprintln(stdout, "Cookies cleared")
	return nil
}
