package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage license keys",
		Long:  "Generate license keys, inspect them, and release their hardware binding.",
	}

	cmd.AddCommand(newLicenseGenerateCmd())
	cmd.AddCommand(newLicenseShowCmd())
	cmd.AddCommand(newLicenseResetHWIDCmd())

	return cmd
}

// parseGrants parses product=duration pairs. Durations accept Go duration
// syntax ("720h") or a plain number of seconds.
func parseGrants(pairs []string) (map[string]int64, error) {
	grants := make(map[string]int64, len(pairs))
	for _, pair := range pairs {
		id, raw, ok := strings.Cut(pair, "=")
		if !ok || id == "" || raw == "" {
			return nil, fmt.Errorf("invalid grant %q: expected product=duration", pair)
		}
		seconds, err := parseSeconds(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid grant %q: %w", pair, err)
		}
		grants[id] = seconds
	}
	return grants, nil
}

func parseSeconds(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		return n, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("duration %q is neither seconds nor a Go duration", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return int64(d / time.Second), nil
}

func newLicenseGenerateCmd() *cobra.Command {
	var grants []string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a license key",
		Example: `  keygate license generate --grant aimbot-pro=720h
  keygate license generate --grant lite=86400 --grant pro=24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			durations, err := parseGrants(grants)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.Keys.GenerateLicense(cmd.Context(), durations)
			if err != nil {
				return fmt.Errorf("generate license: %w", err)
			}
			fmt.Println("License created:")
			fmt.Println()
			fmt.Printf("  Key: %s\n", l.Key)
			for _, p := range l.Products {
				fmt.Printf("  %-24s %s\n", p.ProductID, time.Duration(p.Duration)*time.Second)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&grants, "grant", nil, "product=duration to grant (repeatable)")

	return cmd
}

func newLicenseShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <license-key>",
		Short: "Show a license with its grants and sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			l, err := a.Catalog.GetLicense(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get license: %w", err)
			}
			if l.Sessions, err = a.Catalog.ListSessions(ctx, l.Key); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			if jsonOutput {
				return printJSON(l)
			}

			hwid := l.HWID
			if !l.Bound() {
				hwid = "(unbound)"
			}
			fmt.Printf("License: %s\n", l.Key)
			fmt.Printf("  HWID:    %s\n", hwid)
			fmt.Printf("  Created: %s\n", time.Unix(l.CreatedAt, 0).UTC().Format(time.RFC3339))
			fmt.Println()
			fmt.Printf("  %-24s %-14s %-20s %s\n", "PRODUCT", "DURATION", "STARTED", "STATUS")
			for _, p := range l.Products {
				st, err := a.Catalog.LicenseProductStatus(ctx, l.Key, p.ProductID)
				if err != nil {
					return err
				}
				status := fmt.Sprintf("%s left", time.Duration(st.Remaining)*time.Second)
				switch {
				case st.Frozen:
					status = "frozen"
				case st.Expired:
					status = "expired"
				}
				fmt.Printf("  %-24s %-14s %-20s %s\n", p.ProductID,
					time.Duration(p.Duration)*time.Second,
					time.Unix(p.StartedAt, 0).UTC().Format(time.RFC3339),
					status)
			}
			fmt.Printf("\n  Sessions: %d\n", len(l.Sessions))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newLicenseResetHWIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-hwid <license-key>",
		Short: "Release a license's hardware binding",
		Long:  "Clear the bound hardware ID so the next authorization binds the license again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Catalog.ResetHWID(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("reset hwid: %w", err)
			}
			fmt.Printf("Reset hardware binding of %s\n", args[0])
			return nil
		},
	}
}
