package cmd

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{if .Description}}
{{.Description}}
{{end}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}
   {{.Name}}:{{range .VisibleCommands}}
     {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
   {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:
   {{range $index, $option := .VisibleFlags}}{{if $index}}
   {{end}}{{$option}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.
`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

const DESCRIPTION = `warpnet routes requests through a single gateway that applies the
privacy headers, keeps a persistent cookie store and serves internal
schemes (warp:, ftp:, scripted schemes) without touching the network.`

const FetchDescription = `Fetch sends one request through the gateway and writes the body
to stdout, or to a file with a progress bar when -o is given.
Internal schemes work too, for example:

        warpnet fetch warp:cookies

`

const CookiesDescription = `Cookies works on the cookie file directly. Stop the daemon first
or use its cookies.* methods, since it rewrites the file on exit.

Subcommands: list, purge, import, clear

`

const DaemonDescription = `Daemon runs the gateway and serves JSON-RPC 2.0 on /jsonrpc and
/ws at server.listen. Clients send "Authorization: Bearer <token>",
where the token is server.token or, when unset, the one written to
the daemon.token file in the data directory.

`

const ConfigDescription = `Config shows or changes settings stored in config.yml.
Options are named section.option, for example:

        warpnet config set cookies.accept never

`
