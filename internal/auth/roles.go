package auth

import (
	"context"
	"sort"
	"strings"
	"sync"

	"gatehouse.org/internal/ids"
)

// RoleStore resolves roles by name.
type RoleStore interface {
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
}

var _ RoleStore = (*MemoryRoleStore)(nil)

// MemoryRoleStore keeps roles in process memory, keyed by name.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

// NewMemoryRoleStore seeds the store with roles.
func NewMemoryRoleStore(roles ...*Role) *MemoryRoleStore {
	s := &MemoryRoleStore{roles: make(map[string]*Role)}
	for _, r := range roles {
		_ = s.PutRole(r)
	}
	return s
}

// PutRole inserts or replaces a role. An empty ID is filled in.
func (s *MemoryRoleStore) PutRole(r *Role) error {
	if r == nil || strings.TrimSpace(r.Name) == "" {
		return Invalid("role", "name is required")
	}
	cp := cloneRole(r)
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[cp.Name] = cp
	return nil
}

func (s *MemoryRoleStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRole(r), nil
}

func (s *MemoryRoleStore) ListRoles(_ context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DefaultRoles returns the built-in role set. SUPER_ADMIN and ADMIN carry the
// wildcard; lower roles get progressively fewer permissions.
func DefaultRoles() []*Role {
	perm := func(names ...string) []Permission {
		out := make([]Permission, 0, len(names))
		for _, n := range names {
			out = append(out, builtinPermission(n))
		}
		return out
	}
	return []*Role{
		{ID: "role-super-admin", Name: RoleSuperAdmin, Permissions: perm(PermissionWildcard)},
		{ID: "role-admin", Name: "ADMIN", Permissions: perm(PermissionWildcard)},
		{ID: "role-manager", Name: "MANAGER", Permissions: perm(PermUsersRead, PermUsersWrite, PermRolesAssign, PermAuditRead)},
		{ID: "role-editor", Name: "EDITOR", Permissions: perm(PermUsersRead, PermUsersWrite)},
		{ID: "role-user", Name: "USER", Permissions: perm(PermUsersRead)},
		{ID: "role-guest", Name: "GUEST"},
	}
}
