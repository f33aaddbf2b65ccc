package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"keys"},
		Short:   "Manage redemption keys",
		Long:    "Generate single-use redemption keys that add time to a product when redeemed.",
	}

	cmd.AddCommand(newKeyGenerateCmd())

	return cmd
}

func newKeyGenerateCmd() *cobra.Command {
	var (
		duration string
		count    int
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "generate <product-id>",
		Short: "Generate redemption keys for a product",
		Example: `  keygate key generate aimbot-pro --duration 720h --count 50
  keygate key generate aimbot-pro --duration 86400 --json > keys.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seconds, err := parseSeconds(duration)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.Keys.GenerateRedemptionKeys(cmd.Context(), args[0], seconds, count)
			if err != nil && !(len(keys) > 0 && errors.Is(err, service.ErrCollisionExhausted)) {
				return fmt.Errorf("generate keys: %w", err)
			}

			if jsonOut {
				if perr := printJSON(keys); perr != nil {
					return perr
				}
			} else {
				for _, k := range keys {
					fmt.Println(k)
				}
			}
			// Keys created before the collision bound stopped the batch are
			// valid and have been printed.
			return err
		},
	}

	cmd.Flags().StringVar(&duration, "duration", "", "Time each key grants: seconds or a Go duration (required)")
	cmd.Flags().IntVar(&count, "count", 1, fmt.Sprintf("Number of keys (1-%d)", service.MaxBatchSize))
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as a JSON array")
	cmd.MarkFlagRequired("duration")

	return cmd
}
