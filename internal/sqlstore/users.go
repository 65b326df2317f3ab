package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"provreg.org/internal/provision"
)

// querier is the subset of *sql.Conn and *sql.Tx the assembly helpers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const userColumns = `uuid, login, password_hash, first_name, middle_name, last_name, suffix,
	credential, serial_number, distinguished_name, agency, country_code, citizenship,
	created_at, active, locked`

// StoreUser replaces the user wholesale: the user row is upserted by uuid,
// and the contact-info and role-membership rows are deleted and reinserted
// in list order. Referenced role names are not validated here; that is the
// caller's responsibility.
func (d *Directory) StoreUser(ctx context.Context, u provision.User) error {
	if u.UUID == "" {
		return fmt.Errorf("%w: user uuid is required", provision.ErrInvalidInput)
	}
	if u.Login == "" {
		return fmt.Errorf("%w: user login is required", provision.ErrInvalidInput)
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

	if err := replaceUserTx(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

// replaceUserTx performs the delete-then-reinsert replacement of a user and
// its ordered children inside the caller's transaction. Approval promotion
// reuses it to copy a shadow user into the canonical tables.
func replaceUserTx(ctx context.Context, tx *sql.Tx, u provision.User) error {
	// Parent row first so the child inserts satisfy their references.
	if _, err := tx.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		on conflict (uuid) do update set
			login = excluded.login,
			password_hash = excluded.password_hash,
			first_name = excluded.first_name,
			middle_name = excluded.middle_name,
			last_name = excluded.last_name,
			suffix = excluded.suffix,
			credential = excluded.credential,
			serial_number = excluded.serial_number,
			distinguished_name = excluded.distinguished_name,
			agency = excluded.agency,
			country_code = excluded.country_code,
			citizenship = excluded.citizenship,
			created_at = excluded.created_at,
			active = excluded.active,
			locked = excluded.locked
	`,
		u.UUID, u.Login, u.PasswordHash, u.FirstName, nullStr(u.MiddleName), u.LastName, nullStr(u.Suffix),
		nullStr(u.Credential), nullStr(u.SerialNumber), nullStr(u.DistinguishedName),
		nullStr(u.Agency), nullStr(u.CountryCode), nullStr(u.Citizenship),
		toMillis(u.CreatedAt), boolInt(u.Active), boolInt(u.Locked)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from user_contact_info where user_uuid = $1`, u.UUID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`delete from user_roles where user_uuid = $1`, u.UUID); err != nil {
		return err
	}
	for i, ci := range u.ContactInfo {
		if _, err := tx.ExecContext(ctx, `
			insert into user_contact_info (user_uuid, type, description, contact, is_primary, ordinal)
			values ($1, $2, $3, $4, $5, $6)
		`, u.UUID, ci.Type, ci.Description, ci.Contact, boolInt(ci.Primary), i); err != nil {
			return err
		}
	}
	for i, role := range u.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_uuid, role_name, ordinal)
			values ($1, $2, $3)
		`, u.UUID, role, i); err != nil {
			return err
		}
	}
	return nil
}

// GetUser joins the user row with its ordered contact list and ordered role
// names.
func (d *Directory) GetUser(ctx context.Context, uuid string) (provision.User, error) {
	if uuid == "" {
		return provision.User{}, fmt.Errorf("%w: user uuid is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return provision.User{}, err
	}
	defer lease.Release()

	u, err := scanUser(ctx, lease.Conn(), uuid)
	if err != nil {
		return provision.User{}, err
	}
	if err := fillUserChildren(ctx, lease.Conn(), &u); err != nil {
		return provision.User{}, err
	}
	return u, nil
}

// ListUsers returns every canonical user with assembled children.
func (d *Directory) ListUsers(ctx context.Context) ([]provision.User, error) {
	return d.listUsersWhere(ctx, "", 0)
}

// ListUsersByActive filters on the active flag.
func (d *Directory) ListUsersByActive(ctx context.Context, active bool) ([]provision.User, error) {
	return d.listUsersWhere(ctx, "active", boolInt(active))
}

// ListUsersByLocked filters on the locked flag.
func (d *Directory) ListUsersByLocked(ctx context.Context, locked bool) ([]provision.User, error) {
	return d.listUsersWhere(ctx, "locked", boolInt(locked))
}

func (d *Directory) listUsersWhere(ctx context.Context, flag string, want int) ([]provision.User, error) {
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	query := `select ` + userColumns + ` from users order by login`
	var args []any
	if flag != "" {
		query = `select ` + userColumns + ` from users where ` + flag + ` = $1 order by login`
		args = append(args, want)
	}

	rows, err := lease.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var users []provision.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Children are fetched after the user cursor is drained: the lease is a
	// single connection and cannot serve two open result sets.
	for i := range users {
		if err := fillUserChildren(ctx, lease.Conn(), &users[i]); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// UserExists reports whether a canonical user row exists for uuid.
func (d *Directory) UserExists(ctx context.Context, uuid string) (bool, error) {
	if uuid == "" {
		return false, fmt.Errorf("%w: user uuid is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer lease.Release()
	return userExists(ctx, lease.Conn(), uuid)
}

func userExists(ctx context.Context, q querier, uuid string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx,
		`select count(1) from users where uuid = $1`, uuid).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UUIDByLogin resolves a login to the user's uuid.
func (d *Directory) UUIDByLogin(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("%w: login is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	var uuid string
	err = lease.Conn().QueryRowContext(ctx,
		`select uuid from users where login = $1`, login).Scan(&uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: login %s", provision.ErrNotFound, login)
	}
	if err != nil {
		return "", err
	}
	return uuid, nil
}

// SetActive updates the user's active flag. Unknown uuids surface
// ErrNotFound.
func (d *Directory) SetActive(ctx context.Context, uuid string, active bool) error {
	return d.setUserFlag(ctx, uuid, "active", active)
}

// SetLocked updates the user's locked flag.
func (d *Directory) SetLocked(ctx context.Context, uuid string, locked bool) error {
	return d.setUserFlag(ctx, uuid, "locked", locked)
}

func (d *Directory) setUserFlag(ctx context.Context, uuid, flag string, value bool) error {
	if uuid == "" {
		return fmt.Errorf("%w: user uuid is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	res, err := lease.Conn().ExecContext(ctx,
		`update users set `+flag+` = $1 where uuid = $2`, boolInt(value), uuid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", provision.ErrNotFound, uuid)
	}
	return nil
}

// SetPasswordByLogin replaces the stored password hash for a login.
func (d *Directory) SetPasswordByLogin(ctx context.Context, login, passwordHash string) error {
	if login == "" {
		return fmt.Errorf("%w: login is required", provision.ErrInvalidInput)
	}
	if passwordHash == "" {
		return fmt.Errorf("%w: password hash is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	res, err := lease.Conn().ExecContext(ctx,
		`update users set password_hash = $1 where login = $2`, passwordHash, login)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: login %s", provision.ErrNotFound, login)
	}
	return nil
}

// Credentials reads the smart-card attribute set for a user.
func (d *Directory) Credentials(ctx context.Context, uuid string) (provision.Credentials, error) {
	if uuid == "" {
		return provision.Credentials{}, fmt.Errorf("%w: user uuid is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return provision.Credentials{}, err
	}
	defer lease.Release()

	var (
		creds                    provision.Credentials
		cred, serial, dn, agency sql.NullString
		countryCode, citizenship sql.NullString
	)
	err = lease.Conn().QueryRowContext(ctx, `
		select credential, serial_number, distinguished_name, agency, country_code, citizenship
		from users where uuid = $1
	`, uuid).Scan(&cred, &serial, &dn, &agency, &countryCode, &citizenship)
	if errors.Is(err, sql.ErrNoRows) {
		return provision.Credentials{}, fmt.Errorf("%w: user %s", provision.ErrNotFound, uuid)
	}
	if err != nil {
		return provision.Credentials{}, err
	}
	creds.Credential = strPtr(cred)
	creds.SerialNumber = strPtr(serial)
	creds.DistinguishedName = strPtr(dn)
	creds.Agency = strPtr(agency)
	creds.CountryCode = strPtr(countryCode)
	creds.Citizenship = strPtr(citizenship)
	return creds, nil
}

// UpdateCredentials replaces the smart-card attribute set as a unit.
func (d *Directory) UpdateCredentials(ctx context.Context, uuid string, creds provision.Credentials) error {
	if uuid == "" {
		return fmt.Errorf("%w: user uuid is required", provision.ErrInvalidInput)
	}
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	res, err := lease.Conn().ExecContext(ctx, `
		update users set
			credential = $1,
			serial_number = $2,
			distinguished_name = $3,
			agency = $4,
			country_code = $5,
			citizenship = $6
		where uuid = $7
	`, nullStr(creds.Credential), nullStr(creds.SerialNumber), nullStr(creds.DistinguishedName),
		nullStr(creds.Agency), nullStr(creds.CountryCode), nullStr(creds.Citizenship), uuid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", provision.ErrNotFound, uuid)
	}
	return nil
}

func scanUser(ctx context.Context, q querier, uuid string) (provision.User, error) {
	row := q.QueryRowContext(ctx,
		`select `+userColumns+` from users where uuid = $1`, uuid)
	u, err := scanUserInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return provision.User{}, fmt.Errorf("%w: user %s", provision.ErrNotFound, uuid)
	}
	if err != nil {
		return provision.User{}, err
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(rows *sql.Rows) (provision.User, error) {
	return scanUserInto(rows)
}

func scanUserInto(row rowScanner) (provision.User, error) {
	var (
		u                        provision.User
		middleName, suffix       sql.NullString
		cred, serial, dn, agency sql.NullString
		countryCode, citizenship sql.NullString
		createdAt                int64
	)
	err := row.Scan(
		&u.UUID, &u.Login, &u.PasswordHash, &u.FirstName, &middleName, &u.LastName, &suffix,
		&cred, &serial, &dn, &agency, &countryCode, &citizenship,
		&createdAt, &u.Active, &u.Locked,
	)
	if err != nil {
		return provision.User{}, err
	}
	u.MiddleName = strPtr(middleName)
	u.Suffix = strPtr(suffix)
	u.Credential = strPtr(cred)
	u.SerialNumber = strPtr(serial)
	u.DistinguishedName = strPtr(dn)
	u.Agency = strPtr(agency)
	u.CountryCode = strPtr(countryCode)
	u.Citizenship = strPtr(citizenship)
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

func fillUserChildren(ctx context.Context, q querier, u *provision.User) error {
	contacts, err := contactRows(ctx, q, `
		select type, description, contact, is_primary from user_contact_info
		where user_uuid = $1
		order by ordinal
	`, u.UUID)
	if err != nil {
		return err
	}
	u.ContactInfo = contacts

	roles, err := stringRows(ctx, q, `
		select role_name from user_roles
		where user_uuid = $1
		order by ordinal
	`, u.UUID)
	if err != nil {
		return err
	}
	u.Roles = roles
	return nil
}

func contactRows(ctx context.Context, q querier, query, key string) ([]provision.ContactInfo, error) {
	rows, err := q.QueryContext(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []provision.ContactInfo
	for rows.Next() {
		var ci provision.ContactInfo
		if err := rows.Scan(&ci.Type, &ci.Description, &ci.Contact, &ci.Primary); err != nil {
			return nil, err
		}
		contacts = append(contacts, ci)
	}
	return contacts, rows.Err()
}

func stringRows(ctx context.Context, q querier, query, key string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vals []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, rows.Err()
}
