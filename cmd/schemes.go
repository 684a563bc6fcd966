package cmd

import (
	"fmt"

	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
)

func listSchemes(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "schemes", "load_env", err)
		return nil
	}
	comps, err := initComponents(e, daemonUI{log: e.log}, e.log)
	if err != nil {
		common.PrintRuntimeErr(ctx, "schemes", "init", err)
		return nil
	}
	defer comps.Close()
	scripts := e.settings.Settings().Schemes.Scripts
	for _, name := range comps.Schemes.Schemes() {
		if path, ok := scripts[name]; ok {
			fmt.Fprintf(stdout, "%s\t%s\n", name, path)
			continue
		}
		fmt.Fprintln(stdout, name)
	}
	return nil
}
