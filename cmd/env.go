package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/internal/config"
	"github.com/warpdl/warpnet/pkg/cookiestore"
	"github.com/warpdl/warpnet/pkg/logger"
)

// Process-wide seams, replaced in tests.
var (
	appFs  afero.Fs  = afero.NewOsFs()
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	now              = time.Now
)

// env is what every command starts from: the resolved directories, the
// loaded settings and a console logger.
type env struct {
	dirs     config.Dirs
	settings *config.Store
	log      logger.Logger
	debug    bool
}

func loadEnv(ctx *cli.Context) (*env, error) {
	debug := ctx.GlobalBool("debug")
	dirs, err := config.DefaultDirs()
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(appFs, dirs.ConfigFile())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &env{
		dirs:     dirs,
		settings: settings,
		log:      logger.NewStandardLogger(log.New(stderr, "warpnet: ", 0), debug),
		debug:    debug,
	}, nil
}

// loadCookies opens the cookie file with the configured accept policy.
func (e *env) loadCookies() (*cookiestore.Store, error) {
	return cookiestore.Load(e.dirs.CookieFile(), &cookiestore.Options{
		Fs:     appFs,
		Policy: e.settings.CookiePolicy,
		Now:    now,
		Logger: e.log.Named("cookies"),
	})
}

// saveCookies writes store back when cookies.store is enabled.
func (e *env) saveCookies(store *cookiestore.Store) error {
	return store.Save(e.dirs.CookieFile(), e.settings.PersistCookies())
}
