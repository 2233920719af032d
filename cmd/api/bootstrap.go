package main

import (
	"context"
	"errors"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/obs"
)

// bootstrapAdmin creates the configured super admin unless the email is
// already taken. An empty email disables bootstrapping.
func bootstrapAdmin(ctx context.Context, cfg config.BootstrapConfig, users auth.UserStore, roles auth.RoleStore, create func(context.Context, *auth.User) error) error {
	if cfg.Email == "" {
		return nil
	}
	if cfg.Password == "" {
		return auth.Invalid("bootstrap.password", "is required when bootstrap.email is set")
	}
	if _, err := users.FindByEmail(ctx, cfg.Email); err == nil {
		return nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return err
	}

	role, err := roles.FindRoleByName(ctx, auth.RoleSuperAdmin)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(cfg.Password)
	if err != nil {
		return err
	}
	u := &auth.User{
		Email:        cfg.Email,
		Name:         "Administrator",
		PasswordHash: hash,
		Role:         role,
	}
	if err := create(ctx, u); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			return nil
		}
		return err
	}
	obs.Logger().WithField("user_id", u.ID).Info("bootstrapped super admin")
	return nil
}
