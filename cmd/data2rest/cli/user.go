package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/data2rest/data2rest/internal/config"
	"github.com/data2rest/data2rest/internal/model"
	"github.com/data2rest/data2rest/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage admin users",
		Long:  "Create administrative users who sign in to the system API with a username and password.",
	}

	cmd.AddCommand(newUserCreateCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		password string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new admin user",
		Example: `  data2rest user create --username admin
  data2rest user create --username ops --role operators`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(username, password, role)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&role, "role", "admin", "Role to bind the user to")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runUserCreate(username, password, roleName string) error {
	// Prompt for password if not provided
	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	store, err := openConfigStore()
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	role, err := resolveRole(ctx, store, roleName)
	if err != nil {
		return err
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		RoleID:       role.ID,
		Status:       1,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created admin user %q (role=%s)\n", username, role.Name)
	return nil
}

// resolveRole looks up a role by name. The built-in "admin" role is created
// on first use so a fresh install can bootstrap its first user.
func resolveRole(ctx context.Context, store *config.Store, name string) (*model.Role, error) {
	role, err := store.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}

	if name != "admin" {
		return nil, fmt.Errorf("role %q not found", name)
	}

	role = &model.Role{Name: "admin", Permissions: `{"all": true}`}
	if err := store.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("create admin role: %w", err)
	}
	return role, nil
}
