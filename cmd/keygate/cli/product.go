package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newProductCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage products",
		Long:  "Create, list, delete, freeze and unfreeze licensable products.",
	}

	cmd.AddCommand(newProductCreateCmd())
	cmd.AddCommand(newProductListCmd())
	cmd.AddCommand(newProductDeleteCmd())
	cmd.AddCommand(newProductFreezeCmd())
	cmd.AddCommand(newProductUnfreezeCmd())

	return cmd
}

func newProductCreateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:     "create <product-id>",
		Short:   "Create a product",
		Example: `  keygate product create aimbot-pro --name "Pro tier"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Catalog.CreateProduct(cmd.Context(), args[0], name)
			if err != nil {
				return fmt.Errorf("create product: %w", err)
			}
			fmt.Printf("Created product %q\n", p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")

	return cmd
}

func newProductListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all products",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			products, err := a.Catalog.ListProducts(cmd.Context())
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}

			if jsonOutput {
				return printJSON(products)
			}
			if len(products) == 0 {
				fmt.Println("No products. Use 'keygate product create' to add one.")
				return nil
			}

			fmt.Printf("%-24s %-28s %-20s\n", "ID", "NAME", "FROZEN")
			fmt.Printf("%-24s %-28s %-20s\n", "--", "----", "------")
			for _, p := range products {
				frozen := "no"
				if p.Frozen {
					frozen = "since " + time.Unix(p.FrozenAt, 0).UTC().Format(time.RFC3339)
				}
				fmt.Printf("%-24s %-28s %-20s\n", p.ID, p.Name, frozen)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newProductDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <product-id>",
		Short: "Delete a product and every grant of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Catalog.DeleteProduct(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete product: %w", err)
			}
			fmt.Printf("Deleted product %q\n", args[0])
			return nil
		},
	}
}

func newProductFreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "freeze <product-id>",
		Short: "Freeze a product",
		Long:  "Deny access to a product while preserving every holder's remaining time.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Catalog.FreezeProduct(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("freeze product: %w", err)
			}
			fmt.Printf("Froze product %q\n", args[0])
			return nil
		},
	}
}

func newProductUnfreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfreeze <product-id>",
		Short: "Unfreeze a product",
		Long:  "Restore access to a product and credit every holder with the time it was frozen.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Catalog.UnfreezeProduct(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("unfreeze product: %w", err)
			}
			fmt.Printf("Unfroze product %q\n", res.ProductID)
			fmt.Printf("  Frozen for:           %s\n", time.Duration(res.FrozenFor)*time.Second)
			fmt.Printf("  Licenses compensated: %d\n", res.Shifted)
			return nil
		},
	}
}
