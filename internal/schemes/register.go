package schemes

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/warpdl/warpnet/pkg/logger"
	"github.com/warpdl/warpnet/pkg/scheme"
)

// ErrReservedScheme is returned for scripts claiming a network or
// built-in scheme.
var ErrReservedScheme = errors.New("scheme name is reserved")

var reserved = map[string]bool{
	InfoScheme: true,
	"http":     true,
	"https":    true,
	"ws":       true,
	"wss":      true,
	"ftp":      true,
	"ftps":     true,
}

// Register installs info under warp:, ftp under ftp: and ftps:, and one
// Script per entry of scripts. Scripts that fail to load are skipped and
// reported in the returned error; the rest stay registered.
func Register(r *scheme.Registry, info *Info, ftp *FTP, scripts map[string]string, l logger.Logger) error {
	l = logger.OrNop(l)
	if info != nil {
		r.Register(InfoScheme, info)
	}
	if ftp != nil {
		r.Register("ftp", ftp)
		r.Register("ftps", ftp)
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(scripts)) {
		if reserved[name] {
			errs = append(errs, fmt.Errorf("scheme %s: %w", name, ErrReservedScheme))
			continue
		}
		s, err := LoadScript(scripts[name], l.Named("js"))
		if err != nil {
			errs = append(errs, fmt.Errorf("scheme %s: %w", name, err))
			continue
		}
		r.Register(name, s)
		l.Debug("Registered script handler for %s: %s", name, scripts[name])
	}
	return errors.Join(errs...)
}
