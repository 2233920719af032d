// Package admin holds user-management operations that need both the user
// stores and the access enforcer.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
)

// Service assigns roles under access control.
type Service struct {
	users    auth.UserStore
	roles    auth.RoleStore
	enforcer *access.Enforcer
}

// NewService returns a Service.
func NewService(users auth.UserStore, roles auth.RoleStore, enforcer *access.Enforcer) *Service {
	return &Service{users: users, roles: roles, enforcer: enforcer}
}

// Roles lists the assignable roles.
func (s *Service) Roles(ctx context.Context) ([]*auth.Role, error) {
	return s.roles.ListRoles(ctx)
}

// AssignRole gives userID the named role. The assigner needs roles.assign,
// must rank at least as high as the new role, and must rank at least as
// high as the role the target currently holds.
func (s *Service) AssignRole(ctx context.Context, assigner *auth.User, userID, roleName string) (*auth.User, error) {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(roleName)
	if userID == "" {
		return nil, auth.Invalid("user_id", "is required")
	}
	if roleName == "" {
		return nil, auth.Invalid("role", "is required")
	}
	if err := s.enforcer.RequirePermission(ctx, assigner, auth.PermRolesAssign, "role-assignment"); err != nil {
		return nil, err
	}
	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("admin: load user %s: %w", userID, err)
	}
	role, err := s.roles.FindRoleByName(ctx, roleName)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.Invalid("role", "unknown role %q", roleName)
	}
	if err != nil {
		return nil, fmt.Errorf("admin: load role %s: %w", roleName, err)
	}
	if current := target.RoleName(); current != "" && current != roleName {
		if err := s.enforcer.RequireRoleAssignment(ctx, assigner, current); err != nil {
			return nil, err
		}
	}
	if err := s.enforcer.RequireRoleAssignment(ctx, assigner, roleName); err != nil {
		return nil, err
	}
	if err := s.users.SetRole(ctx, target.ID, role); err != nil {
		return nil, fmt.Errorf("admin: set role: %w", err)
	}
	previous := target.RoleName()
	target.Role = role

	_ = audit.LogEvent(audit.WithActor(ctx, assigner.ID), "role.assigned", map[string]any{
		"target_user": target.ID,
		"role":        roleName,
		"previous":    previous,
	})
	return target, nil
}

// User loads userID for viewer. Viewers always see themselves; anyone else
// needs users.read.
func (s *Service) User(ctx context.Context, viewer *auth.User, userID string) (*auth.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, auth.Invalid("user_id", "is required")
	}
	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("admin: load user %s: %w", userID, err)
	}
	res := access.Resource{ID: target.ID, Type: "user", Owner: target}
	opts := access.ResourceOptions{Ownership: true, FallbackPermission: auth.PermUsersRead}
	if err := s.enforcer.RequireResource(ctx, viewer, res, opts, "user-profile"); err != nil {
		return nil, err
	}
	return target, nil
}
