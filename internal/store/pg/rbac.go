package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"identity.org/internal/identity"
)

// Services ------------------------------------------------------------------

func (s *Store) CreateService(ctx context.Context, svc *identity.Service) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into services (id, name, description, is_active, url, port)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, svc.ID, svc.Name, nullIfEmpty(svc.Description), svc.Active,
		nullIfEmpty(svc.URL), svc.Port,
	).Scan(&svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return identity.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetServiceByName(ctx context.Context, name string) (*identity.Service, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.serviceWhere(ctx, `name = $1`, name)
}

func (s *Store) GetServiceByID(ctx context.Context, id uuid.UUID) (*identity.Service, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	return s.serviceWhere(ctx, `id = $1`, id)
}

func (s *Store) serviceWhere(ctx context.Context, cond string, arg any) (*identity.Service, error) {
	var (
		svc       identity.Service
		desc, url sql.NullString
		port      sql.NullInt32
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, is_active, url, port, created_at, updated_at
		from services
		where `+cond, arg,
	).Scan(&svc.ID, &svc.Name, &desc, &svc.Active, &url, &port, &svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	svc.Description = desc.String
	svc.URL = url.String
	svc.Port = int(port.Int32)
	return &svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]identity.Service, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, is_active, url, port, created_at, updated_at
		from services
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []identity.Service
	for rows.Next() {
		var (
			svc       identity.Service
			desc, url sql.NullString
			port      sql.NullInt32
		)
		if err := rows.Scan(&svc.ID, &svc.Name, &desc, &svc.Active, &url, &port, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return nil, err
		}
		svc.Description = desc.String
		svc.URL = url.String
		svc.Port = int(port.Int32)
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

// Roles ---------------------------------------------------------------------

func (s *Store) CreateRole(ctx context.Context, role *identity.Role) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, service_id, name, description, is_active)
		values ($1, $2, $3, $4, $5)
		returning created_at, (select name from services where id = $2)
	`, role.ID, role.ServiceID, role.Name, nullIfEmpty(role.Description), role.Active,
	).Scan(&role.CreatedAt, &role.ServiceName)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.ErrConflict
			case pgErrForeignKeyViolation:
				return identity.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetRoleByName(ctx context.Context, serviceID uuid.UUID, name string) (*identity.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		role identity.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select r.id, r.service_id, s.name, r.name, r.description, r.is_active, r.created_at
		from roles r
		join services s on s.id = r.service_id
		where r.service_id = $1 and r.name = $2
	`, serviceID, name,
	).Scan(&role.ID, &role.ServiceID, &role.ServiceName, &role.Name, &desc, &role.Active, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Description = desc.String
	return &role, nil
}

func (s *Store) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]identity.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.service_id, s.name, r.name, r.description, r.is_active, r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		join services s on s.id = r.service_id
		where ur.user_id = $1
		order by s.name, r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []identity.Role
	for rows.Next() {
		var (
			role identity.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.ServiceID, &role.ServiceName, &role.Name, &desc, &role.Active, &role.CreatedAt); err != nil {
			return nil, err
		}
		role.Description = desc.String
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
	`, userID, roleID); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.ErrConflict
			case pgErrForeignKeyViolation:
				return identity.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) UnassignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// Permissions ---------------------------------------------------------------

func (s *Store) CreatePermission(ctx context.Context, perm *identity.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, service_id, name, resource, action, description)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, perm.ID, perm.ServiceID, perm.Name, perm.Resource, perm.Action,
		nullIfEmpty(perm.Description),
	).Scan(&perm.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.ErrConflict
			case pgErrForeignKeyViolation:
				return identity.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return identity.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GrantPermission(ctx context.Context, userID, permissionID uuid.UUID, expiresAt *time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into user_permissions (user_id, permission_id, expires_at)
		values ($1, $2, $3)
	`, userID, permissionID, expiresAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return identity.ErrConflict
			case pgErrForeignKeyViolation:
				return identity.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) RevokePermission(ctx context.Context, userID, permissionID uuid.UUID) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_permissions
		where user_id = $1 and permission_id = $2
	`, userID, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	return nil
}

// CheckUserPermission asks the role path first, then live direct grants.
func (s *Store) CheckUserPermission(ctx context.Context, userID, serviceID uuid.UUID, resource, action string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}

	var found int
	err := s.db.QueryRowContext(ctx, `
		select 1
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1 and p.service_id = $2 and p.resource = $3 and p.action = $4
		limit 1
	`, userID, serviceID, resource, action).Scan(&found)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	err = s.db.QueryRowContext(ctx, `
		select 1
		from user_permissions up
		join permissions p on p.id = up.permission_id
		where up.user_id = $1 and p.service_id = $2 and p.resource = $3 and p.action = $4
			and (up.expires_at is null or up.expires_at > now())
		limit 1
	`, userID, serviceID, resource, action).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, err
}

func (s *Store) GetUserPermissions(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) ([]identity.PermissionGrant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select s.name, p.resource, p.action, p.name, 'role' as source
		from (
			select distinct rp.permission_id
			from user_roles ur
			join role_permissions rp on rp.role_id = ur.role_id
			where ur.user_id = $1
		) g
		join permissions p on p.id = g.permission_id
		join services s on s.id = p.service_id
		where $2::uuid is null or p.service_id = $2
		union all
		select s.name, p.resource, p.action, p.name, 'direct' as source
		from user_permissions up
		join permissions p on p.id = up.permission_id
		join services s on s.id = p.service_id
		where up.user_id = $1
			and (up.expires_at is null or up.expires_at > now())
			and ($2::uuid is null or p.service_id = $2)
		order by 1, 2, 3, 5
	`, userID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []identity.PermissionGrant
	for rows.Next() {
		var g identity.PermissionGrant
		if err := rows.Scan(&g.Service, &g.Resource, &g.Action, &g.Name, &g.Source); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
