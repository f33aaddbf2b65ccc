package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/store"
)

// buildInfo describes the binary and the backends it was configured for.
type buildInfo struct {
	Version    string   `json:"version"`
	Commit     string   `json:"commit"`
	Built      string   `json:"built"`
	GoVersion  string   `json:"go_version"`
	Platform   string   `json:"platform"`
	Drivers    []string `json:"drivers"`
	Database   string   `json:"database,omitempty"`
	Revocation string   `json:"revocation,omitempty"`
}

func newBuildInfo(commit, date string) buildInfo {
	info := buildInfo{
		Version:   versionString(),
		Commit:    commit,
		Built:     date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Drivers:   []string{store.DriverSQLite, store.DriverPostgres},
	}
	// The config only adds detail; version must work without a valid one.
	if cfg, err := loadConfig(); err == nil {
		info.Database = cfg.Database.Driver
		if info.Database == "" {
			info.Database = store.DriverSQLite
		}
		info.Revocation = "redis"
		if cfg.Redis.URL == "" {
			info.Revocation = "embedded"
		}
	}
	return info
}

func newVersionCmd(commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information and configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := newBuildInfo(commit, date)
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(out, "keygate %s (%s, built %s)\n", info.Version, info.Commit, info.Built)
			fmt.Fprintf(out, "  runtime:    %s %s\n", info.GoVersion, info.Platform)
			fmt.Fprintf(out, "  drivers:    %s\n", strings.Join(info.Drivers, ", "))
			if info.Database != "" {
				fmt.Fprintf(out, "  database:   %s\n", info.Database)
				fmt.Fprintf(out, "  revocation: %s\n", info.Revocation)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output build info as JSON")

	return cmd
}
