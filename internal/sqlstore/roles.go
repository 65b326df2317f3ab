package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"provreg.org/internal/pool"
	"provreg.org/internal/provision"
)

var _ provision.UserStore = (*Directory)(nil)

// Directory is the canonical store of roles and approved users. Every call
// leases one connection, runs inside one explicit transaction where it
// writes, and releases the lease on all paths. Concurrent writers to the
// same row race at the database's isolation level; there is no
// application-level locking here.
type Directory struct {
	pool *pool.Manager
}

// NewDirectory builds a Directory over the shared connection pool.
func NewDirectory(p *pool.Manager) *Directory {
	return &Directory{pool: p}
}

// StoreRole replaces the role wholesale: the role row is upserted, then the
// permission list is deleted and reinserted in the given order. Calling it
// twice leaves only the second permission list.
func (d *Directory) StoreRole(ctx context.Context, role provision.Role) error {
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", provision.ErrInvalidInput)
	}

	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx, err := lease.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Parent row first so the permission inserts satisfy their reference.
	if _, err := tx.ExecContext(ctx, `
		insert into roles (name, active)
		values ($1, $2)
		on conflict (name) do update set active = excluded.active
	`, role.Name, boolInt(role.Active)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from role_permissions where role_name = $1`, role.Name); err != nil {
		return err
	}
	for i, perm := range role.Permissions {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_name, permission, ordinal)
			values ($1, $2, $3)
		`, role.Name, perm, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ActivateRole sets the role's active flag. Unknown names surface
// ErrNotFound; the same holds for DeactivateRole.
func (d *Directory) ActivateRole(ctx context.Context, name string) error {
	return d.setRoleActive(ctx, name, true)
}

// DeactivateRole clears the role's active flag.
func (d *Directory) DeactivateRole(ctx context.Context, name string) error {
	return d.setRoleActive(ctx, name, false)
}

func (d *Directory) setRoleActive(ctx context.Context, name string, active bool) error {
	if name == "" {
		return fmt.Errorf("%w: role name is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	res, err := lease.Conn().ExecContext(ctx,
		`update roles set active = $1 where name = $2`, boolInt(active), name)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: role %s", provision.ErrNotFound, name)
	}
	return nil
}

// GetRole returns the role with its permissions in ordinal order.
func (d *Directory) GetRole(ctx context.Context, name string) (provision.Role, error) {
	if name == "" {
		return provision.Role{}, fmt.Errorf("%w: role name is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return provision.Role{}, err
	}
	defer lease.Release()

	role, err := scanRole(ctx, lease.Conn(), name)
	if err != nil {
		return provision.Role{}, err
	}
	role.Permissions, err = rolePermissions(ctx, lease.Conn(), name)
	if err != nil {
		return provision.Role{}, err
	}
	return role, nil
}

// ListRoles returns every role, permissions assembled per role through a
// secondary lookup.
func (d *Directory) ListRoles(ctx context.Context) ([]provision.Role, error) {
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	rows, err := lease.Conn().QueryContext(ctx,
		`select name, active from roles order by name`)
	if err != nil {
		return nil, err
	}
	var roles []provision.Role
	for rows.Next() {
		var r provision.Role
		if err := rows.Scan(&r.Name, &r.Active); err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range roles {
		roles[i].Permissions, err = rolePermissions(ctx, lease.Conn(), roles[i].Name)
		if err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func scanRole(ctx context.Context, conn *sql.Conn, name string) (provision.Role, error) {
	var r provision.Role
	err := conn.QueryRowContext(ctx,
		`select name, active from roles where name = $1`, name).
		Scan(&r.Name, &r.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return provision.Role{}, fmt.Errorf("%w: role %s", provision.ErrNotFound, name)
	}
	if err != nil {
		return provision.Role{}, err
	}
	return r, nil
}

func rolePermissions(ctx context.Context, conn *sql.Conn, name string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		select permission from role_permissions
		where role_name = $1
		order by ordinal
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
