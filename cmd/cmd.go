// Package cmd implements the warpnet command line.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"
	"github.com/warpdl/warpnet/cmd/common"
	names "github.com/warpdl/warpnet/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var currentBuildArgs BuildArgs

var globalFlags = []cli.Flag{
	cli.BoolFlag{
		Name:   "debug, d",
		Usage:  "enable debug logging",
		EnvVar: names.DebugEnv,
	},
}

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "warpnet",
		HelpName:              "warpnet",
		Usage:                 "A network gateway with cookies, schemes and a control server.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "warpnet [--debug] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:                   "fetch",
				Aliases:                []string{"f"},
				Usage:                  "fetch a url through the gateway",
				ArgsUsage:              "<url>",
				UsageText:              "[-X method] [-H header]... [-o file] <url>",
				Description:            FetchDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				Action:                 fetch,
				Flags:                  fetchFlags,
				UseShortOptionHandling: true,
			},
			{
				Name:               "cookies",
				Aliases:            []string{"c"},
				Usage:              "inspect and maintain the cookie file",
				Description:        CookiesDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Subcommands: []cli.Command{
					{
						Name:         "list",
						Usage:        "list stored cookies without their values",
						Action:       cookiesList,
						Flags:        cookieDomainFlags,
						OnUsageError: common.UsageErrorCallback,
					},
					{
						Name:   "purge",
						Usage:  "drop expired cookies",
						Action: cookiesPurge,
					},
					{
						Name:         "import",
						Usage:        "import cookies from a browser store",
						ArgsUsage:    "<file>",
						Action:       cookiesImport,
						Flags:        cookieDomainFlags,
						OnUsageError: common.UsageErrorCallback,
					},
					{
						Name:   "clear",
						Usage:  "delete every stored cookie",
						Action: cookiesClear,
					},
				},
			},
			{
				Name:               "schemes",
				Usage:              "list the registered url schemes",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             listSchemes,
			},
			{
				Name:               "daemon",
				Usage:              "run the gateway behind the control server",
				UsageText:          " ",
				Description:        DaemonDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             daemon,
			},
			{
				Name:               "stop",
				Usage:              "stop a running daemon",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             stop,
			},
			{
				Name:               "config",
				Usage:              "show or change settings",
				Description:        ConfigDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Subcommands: []cli.Command{
					{
						Name:      "get",
						Usage:     "print one option or all of them",
						ArgsUsage: "[section.option]",
						Action:    configGet,
					},
					{
						Name:      "set",
						Usage:     "change an option and save the config file",
						ArgsUsage: "<section.option> <value>",
						Action:    configSet,
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of warpnet",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
