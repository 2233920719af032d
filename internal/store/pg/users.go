package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

var (
	_ auth.UserStore = (*Store)(nil)
	_ auth.RoleStore = (*Store)(nil)
)

const userColumns = `
	u.id, u.email, u.name, u.password_hash, u.level, u.department, u.region,
	u.last_login_at, u.created_at, u.updated_at, r.id, r.name`

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findUser(ctx, `where u.id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findUser(ctx, `where u.email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) findUser(ctx context.Context, where string, arg any) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		u          auth.User
		level      sql.NullInt64
		department sql.NullString
		region     sql.NullString
		lastLogin  sql.NullTime
		roleID     sql.NullString
		roleName   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `select`+userColumns+`
		from users u
		left join roles r on r.id = u.role_id
		`+where, arg).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &level, &department, &region,
		&lastLogin, &u.CreatedAt, &u.UpdatedAt, &roleID, &roleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Level = intPtr(level)
	u.Department = stringPtr(department)
	u.Region = stringPtr(region)
	u.LastLoginAt = timePtr(lastLogin)
	if roleID.Valid {
		perms, err := s.rolePermissions(ctx, roleID.String)
		if err != nil {
			return nil, err
		}
		u.Role = &auth.Role{ID: roleID.String, Name: roleName.String, Permissions: perms}
	}
	return &u, nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update users set last_login_at = $2, updated_at = $2
		where id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	return affectedOne(res, auth.ErrNotFound)
}

func (s *Store) SetRole(ctx context.Context, id string, role *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	var roleID sql.NullString
	if role != nil {
		roleID = nullIfEmpty(role.ID)
	}
	res, err := s.db.ExecContext(ctx, `
		update users set role_id = $2, updated_at = now()
		where id = $1
	`, id, roleID)
	if err != nil {
		if isCode(err, pgErrForeignKeyViolation) {
			return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID.String)
		}
		return err
	}
	return affectedOne(res, auth.ErrNotFound)
}

// CreateUser inserts u. An empty ID is filled in; the email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	var roleID sql.NullString
	if u.Role != nil {
		roleID = nullIfEmpty(u.Role.ID)
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, level, department, region, role_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, nullInt(u.Level), nullString(u.Department), nullString(u.Region), roleID,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch {
		case isCode(err, pgErrUniqueViolation):
			return fmt.Errorf("%w: email %s already registered", auth.ErrConflict, u.Email)
		case isCode(err, pgErrForeignKeyViolation):
			return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID.String)
		}
		return err
	}
	return nil
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `select id, name from roles where name = $1`, name).Scan(&r.ID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Permissions, err = s.rolePermissions(ctx, r.ID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, p.id, p.name
		from roles r
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		order by r.name, p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		roles []*auth.Role
		cur   *auth.Role
	)
	for rows.Next() {
		var (
			id, name         string
			permID, permName sql.NullString
		)
		if err := rows.Scan(&id, &name, &permID, &permName); err != nil {
			return nil, err
		}
		if cur == nil || cur.ID != id {
			cur = &auth.Role{ID: id, Name: name}
			roles = append(roles, cur)
		}
		if permID.Valid {
			cur.Permissions = append(cur.Permissions, auth.Permission{ID: permID.String, Name: permName.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) rolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
