package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"harborvisa.org/internal/auth"
	"harborvisa.org/internal/config"
	"harborvisa.org/internal/obs"
)

// seedBootstrapAdmin provisions the configured super admin into an in-memory
// account store. Without one the in-memory mode only serves the portal resolver.
func seedBootstrapAdmin(ctx context.Context, accounts *auth.MemoryAccounts, hasher *auth.Hasher, b config.BootstrapAdmin) error {
	if b.Email == "" {
		obs.Logger().Warn("no bootstrap admin configured; administrator login is unavailable without a database")
		return nil
	}
	digest, err := hasher.Hash(ctx, b.Password)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	name := b.Name
	if name == "" {
		name = "Bootstrap admin"
	}
	a, err := accounts.Add(auth.Admin{
		Email:        b.Email,
		Name:         name,
		Role:         auth.RoleSuperAdmin,
		PasswordHash: digest,
		Active:       true,
	})
	if errors.Is(err, auth.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	obs.Logger().Info("bootstrap admin provisioned", zap.Int64("admin_id", a.ID), zap.String("email", a.Email))
	return nil
}
