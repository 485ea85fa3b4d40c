package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"harborvisa.org/internal/access"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect client portal tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <token>",
		Short: "Show which record a portal token grants access to",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			records := e.db.Access()
			res, err := access.NewResolver(records, records).Resolve(ctx, args[0])
			if errors.Is(err, access.ErrNotFound) {
				return fmt.Errorf("token does not grant access to any live record")
			}
			if err != nil {
				return err
			}
			return writeResolved(cmd, res)
		}),
	})
	return cmd
}

func writeResolved(cmd *cobra.Command, res access.ResolvedAccess) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"kind":    res.Kind,
		"payload": res.Payload(),
	})
}
