package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/routemesh-go/internal/cli/output"
)

// serverInfo is the table view of /varz.
type serverInfo struct {
	ServerName string `json:"server_name"`
	Cluster    string `json:"cluster"`
	Instance   string `json:"instance"`
	Listen     string `json:"listen"`
	Advertise  string `json:"advertise"`
	Uptime     string `json:"uptime"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	GoVersion  string `json:"go_version" table:"wide"`
	BuildTime  string `json:"build_time" table:"wide"`
}

// ServerCommand shows node identity and build information.
func ServerCommand() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"varz"},
		Usage:   "show node identity, build info and (with -o json) its configuration",
		Action:  serverAction,
	}
}

func serverAction(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	varz, err := client(flags).Varz(c.Context)
	if err != nil {
		return unreachable(flags, err)
	}
	if flags.Output != output.FormatTable {
		return render(c, flags, varz)
	}
	return render(c, flags, serverInfo{
		ServerName: varz.ServerName,
		Cluster:    varz.Cluster,
		Instance:   varz.Instance,
		Listen:     varz.Listen,
		Advertise:  varz.Advertise,
		Uptime:     varz.Uptime,
		Version:    varz.Build.Version,
		Commit:     varz.Build.Commit,
		GoVersion:  varz.Build.GoVersion,
		BuildTime:  varz.Build.BuildTime,
	})
}
