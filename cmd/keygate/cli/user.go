package cli

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create accounts, change their roles, and list them. Every account owns one license.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserSetRoleCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  keygate user create --email admin@example.com --role admin
  keygate user create --email player@example.com --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(cmd, email, password, role)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&role, "role", "user", "Role: user, support, dev or admin")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(cmd *cobra.Command, email, password, roleName string) error {
	if err := validator.New().Var(email, "required,email"); err != nil {
		return fmt.Errorf("invalid email address: %q", email)
	}
	role, err := model.ParseRole(roleName)
	if err != nil {
		return err
	}

	if password == "" {
		if password, err = readPassword(); err != nil {
			return err
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.Accounts.CreateUser(cmd.Context(), email, password, role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created user %q\n", u.Email)
	fmt.Printf("  ID:      %s\n", u.ID)
	fmt.Printf("  Role:    %s\n", u.Role)
	fmt.Printf("  License: %s\n", u.LicenseKey)
	return nil
}

// ---------- user set-role ----------

func newUserSetRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <user-id> <role>",
		Short: "Change a user's role",
		Long: `Change a user's role. Credentials issued to the user before the change stop
validating; the revocation is written to redis.url, so it reaches a running
server only when Redis is configured.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := model.ParseRole(args[1])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Config.Redis.URL == "" {
				fmt.Println("warning: redis.url is not set; outstanding credentials are not revoked")
			}
			// A nil actor is the operator, who may change any role.
			if err := a.Accounts.SetRole(cmd.Context(), nil, args[0], role); err != nil {
				return fmt.Errorf("set role: %w", err)
			}
			fmt.Printf("User %s is now %s\n", args[0], role)
			return nil
		},
	}
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.Accounts.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			if jsonOutput {
				return printJSON(users)
			}
			if len(users) == 0 {
				fmt.Println("No users. Use 'keygate user create' to create one.")
				return nil
			}

			fmt.Printf("%-36s %-30s %-8s %-7s %s\n", "ID", "EMAIL", "ROLE", "BANNED", "LICENSE")
			fmt.Printf("%-36s %-30s %-8s %-7s %s\n", "--", "-----", "----", "------", "-------")
			for _, u := range users {
				banned := "no"
				if u.Banned {
					banned = "yes"
				}
				fmt.Printf("%-36s %-30s %-8s %-7s %s\n", u.ID, u.Email, u.Role, banned, u.LicenseKey)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
