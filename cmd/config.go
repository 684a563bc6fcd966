package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
	"github.com/warpdl/warpnet/internal/config"
)

func splitOption(name string) (string, string, error) {
	section, option, ok := strings.Cut(name, ".")
	if !ok || section == "" || option == "" {
		return "", "", fmt.Errorf("option %q must be section.option", name)
	}
	return section, option, nil
}

func configGet(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "config", "load_env", err)
		return nil
	}
	name := ctx.Args().First()
	if name == "" {
		for _, entry := range e.settings.Describe() {
			fmt.Fprintf(stdout, "%s = %s\n", entry.Name, entry.Value)
		}
		return nil
	}
	section, option, err := splitOption(name)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	entry, err := e.settings.Show(section, option)
	if err != nil {
		return configErr(ctx, err)
	}
	fmt.Fprintf(stdout, "%s = %s\n", entry.Name, entry.Value)
	return nil
}

func configSet(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("expected <section.option> <value>"))
	}
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "config", "load_env", err)
		return nil
	}
	section, option, err := splitOption(ctx.Args().Get(0))
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	if err := e.settings.Set(section, option, ctx.Args().Get(1)); err != nil {
		return configErr(ctx, err)
	}
	if err := e.settings.Save(); err != nil {
		common.PrintRuntimeErr(ctx, "config", "save", err)
		return nil
	}
	entry, err := e.settings.Show(section, option)
	if err != nil {
		return configErr(ctx, err)
	}
	fmt.Fprintf(stdout, "%s = %s\n", entry.Name, entry.Value)
	return nil
}

// configErr lists the known options after an unknown one.
func configErr(ctx *cli.Context, err error) error {
	var unknown *config.UnknownOptionError
	if errors.As(err, &unknown) {
		common.PrintRuntimeErr(ctx, "config", "lookup", err)
		fmt.Fprintf(stdout, "Known options: %s\n", strings.Join(config.Names(), ", "))
		return nil
	}
	common.PrintRuntimeErr(ctx, "config", "set", err)
	return nil
}
