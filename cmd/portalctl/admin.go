package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"harborvisa.org/internal/audit"
	"harborvisa.org/internal/auth"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var (
		email string
		name  string
		role  string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator; the password is read from stdin",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, _ []string) error {
			r := auth.Role(role)
			if r != auth.RoleAdmin && r != auth.RoleSuperAdmin {
				return fmt.Errorf("unknown role %q", role)
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			digest, err := e.hasher.Hash(ctx, password)
			if err != nil {
				return err
			}
			a, err := e.db.Accounts().Create(ctx, email, name, r, digest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %d <%s> role=%s\n", a.ID, a.Email, a.Role)
			return nil
		}),
	}
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "admin or super_admin")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create, newSetActiveCmd("deactivate", false), newSetActiveCmd("activate", true))
	return cmd
}

func newSetActiveCmd(use string, active bool) *cobra.Command {
	var actor int64
	c := &cobra.Command{
		Use:   use + " <admin-id>",
		Short: use + " an administrator account",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid admin id %q", args[0])
			}
			var by *int64
			if actor > 0 {
				by = audit.Actor(actor)
			}
			if err := e.manager.SetActive(ctx, id, active, by); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %d %sd\n", id, use)
			return nil
		}),
	}
	c.Flags().Int64Var(&actor, "actor", 0, "id of the administrator performing the change")
	return c
}
