package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/app"
	kmcp "github.com/keygate/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes keygate
administration as tools: products, licenses, redemption keys, hardware bans
and recent logs. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients. Logs go to stderr.

In HTTP mode, the server listens on mcp.addr and requires the admin API key
or an admin bearer token, exactly like /mcp on the API server.`,
		Example: `  keygate mcp                                 # stdio mode
  keygate mcp --transport http --addr :8081     # Streamable HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, dev)
		},
	}

	cmd.Flags().String("transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().String("addr", ":8081", "HTTP listen address (only used with --transport http)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Use an embedded revocation store when redis.url is unset")

	viper.BindPFlag("mcp.transport", cmd.Flags().Lookup("transport"))
	viper.BindPFlag("mcp.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runMCP(cmd *cobra.Command, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs must stay on stderr.
	logger := newLogger(cfg, os.Stderr, false, nil)

	a, err := app.New(cmd.Context(), cfg, app.Options{
		DataDir:       resolveDataDir(),
		Logger:        logger,
		EmbeddedRedis: dev || cfg.MCP.Transport == "stdio",
	})
	if err != nil {
		return err
	}
	defer a.Close()

	mcpSrv := kmcp.NewMCPServer(a, versionString())

	switch cfg.MCP.Transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return mcpSrv.ServeHTTP(cfg.MCP.Addr)
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", cfg.MCP.Transport)
	}
}
