package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keygate configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default keygate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove %s: %w", path, err)
				}
			}
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}

			fmt.Printf("Created %s\n", path)
			fmt.Println("Set auth.jwt_secret and redis.url (or KEYGATE_AUTH_JWT_SECRET and KEYGATE_REDIS_URL), then run 'keygate serve'.")
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "keygate.yaml", "File to write")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long:  "Print the merged configuration from defaults, file and environment with secrets masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := viper.ConfigFileUsed()
			if configFile != "" {
				fmt.Printf("# Config file: %s\n", configFile)
			} else {
				fmt.Println("# Config file: (none found, using defaults and environment)")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.Redacted().Marshal()
			if err != nil {
				return err
			}
			os.Stdout.Write(out)

			if err := cfg.Validate(); err != nil {
				fmt.Printf("\n# Not ready to serve:\n# %v\n", err)
			}
			return nil
		},
	}
}
