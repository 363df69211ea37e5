package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/gatekeeper/internal/auth"
	authdomain "github.com/smallbiznis/gatekeeper/internal/auth/domain"
	"github.com/smallbiznis/gatekeeper/internal/cache"
	"github.com/smallbiznis/gatekeeper/internal/rbac"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	createUserUsername string
	createUserPassword string
	createUserEmail    string
	createUserRoles    []string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a user and assign roles",
	Long:  `Creates a local user account. Each --role is created when missing and assigned to the user.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if createUserUsername == "" || createUserPassword == "" {
			return errors.New("--username and --password are required")
		}

		var created *authdomain.User
		err := runOnce(
			coreModules(),
			cache.Module,
			auth.Module,
			rbac.Module,
			fx.Invoke(func(users authdomain.Service, roles *rbac.Service) error {
				ctx := context.Background()
				user, err := users.CreateUser(ctx, authdomain.CreateUserRequest{
					Username: createUserUsername,
					Email:    createUserEmail,
					Password: createUserPassword,
				})
				if err != nil {
					return fmt.Errorf("create user: %w", err)
				}
				for _, name := range createUserRoles {
					if _, err := roles.EnsureRole(ctx, name); err != nil {
						return fmt.Errorf("ensure role %s: %w", name, err)
					}
					if err := roles.AssignRole(ctx, user.ID, name); err != nil {
						return fmt.Errorf("assign role %s: %w", name, err)
					}
				}
				created = user
				return nil
			}),
		)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %s)\n", created.Username, created.ID)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&createUserUsername, "username", "", "Username (required)")
	createUserCmd.Flags().StringVar(&createUserPassword, "password", "", "Password (required)")
	createUserCmd.Flags().StringVar(&createUserEmail, "email", "", "Email address")
	createUserCmd.Flags().StringSliceVar(&createUserRoles, "role", nil, "Role to assign, repeatable")
}
