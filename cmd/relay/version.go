package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"mercator-hq/relay/pkg/cli"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "0.1.0"
	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"
	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func (v versionInfo) Header() []string { return nil }

func (v versionInfo) Rows() [][]string {
	return cli.KeyValues{
		{"Relay", v.Version},
		{"Git Commit", v.GitCommit},
		{"Build Date", v.BuildDate},
		{"Go Version", v.GoVersion},
		{"OS/Arch", v.Platform},
	}.Rows()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print detailed version information including Git commit and build date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printer, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		return printer.Print(versionInfo{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
