package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"provreg.org/internal/pool"
	"provreg.org/internal/provision"
)

var _ provision.RequestStore = (*Requests)(nil)

// Requests is the account-request store. A request starts pending and moves
// exactly once to approved or rejected; both verdicts are terminal.
// Store, Approve and Reject run under one exclusive lock per instance
// because the promotion invariant (at most one canonical user per request
// uuid) spans the shadow and canonical table sets. Reads take no lock and
// are not isolated from concurrent writers.
//
// Shadow and canonical tables share one database, so promotion commits as a
// single transaction: a half-approved state cannot become visible.
type Requests struct {
	pool *pool.Manager

	mu sync.Mutex
}

// NewRequests builds a Requests store over the shared connection pool.
func NewRequests(p *pool.Manager) *Requests {
	return &Requests{pool: p}
}

const requestColumns = `uuid, password_hash, justification, vouch_name, vouch_contact,
	approved, approved_by, approved_ts,
	rejected, rejected_by, rejected_ts, rejected_reason`

const shadowUserColumns = `request_uuid, login, password_hash, first_name, middle_name, last_name, suffix,
	credential, serial_number, distinguished_name, agency, country_code, citizenship,
	created_at, active, locked`

// StoreRequest validates the applicant's password confirmation, hashes the
// password and writes the embedded user into the shadow holding tables plus
// the request row, all in one transaction under the store lock. It conflicts
// when a canonical user or another request already holds the uuid.
func (r *Requests) StoreRequest(ctx context.Context, req provision.AccountRequest) error {
	if req.UUID == "" {
		return fmt.Errorf("%w: request uuid is required", provision.ErrInvalidInput)
	}
	if req.User.Login == "" {
		return fmt.Errorf("%w: user login is required", provision.ErrInvalidInput)
	}
	if req.Password != req.ConfirmPassword {
		return fmt.Errorf("%w: password confirmation does not match", provision.ErrInvalidInput)
	}
	hash, err := provision.HashPassword(req.Password)
	if err != nil {
		return fmt.Errorf("%w: %v", provision.ErrInvalidInput, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx, err := lease.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := userExists(ctx, tx, req.UUID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: user %s already exists", provision.ErrConflict, req.UUID)
	}
	var n int
	if err := tx.QueryRowContext(ctx,
		`select count(1) from account_requests where uuid = $1`, req.UUID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: request %s already exists", provision.ErrConflict, req.UUID)
	}

	// Request row first: the shadow tables reference it.
	if _, err := tx.ExecContext(ctx, `
		insert into account_requests (uuid, password_hash, justification, vouch_name, vouch_contact,
			approved, rejected)
		values ($1, $2, $3, $4, $5, 0, 0)
	`, req.UUID, hash, nullStr(req.Justification), nullStr(req.VouchName), nullStr(req.VouchContact)); err != nil {
		return err
	}
	u := req.User
	u.PasswordHash = hash
	if err := insertShadowUserTx(ctx, tx, req.UUID, u); err != nil {
		return err
	}
	return tx.Commit()
}

func insertShadowUserTx(ctx context.Context, tx *sql.Tx, requestUUID string, u provision.User) error {
	if _, err := tx.ExecContext(ctx, `
		insert into shadow_users (`+shadowUserColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		requestUUID, u.Login, u.PasswordHash, u.FirstName, nullStr(u.MiddleName), u.LastName, nullStr(u.Suffix),
		nullStr(u.Credential), nullStr(u.SerialNumber), nullStr(u.DistinguishedName),
		nullStr(u.Agency), nullStr(u.CountryCode), nullStr(u.Citizenship),
		toMillis(u.CreatedAt), boolInt(u.Active), boolInt(u.Locked)); err != nil {
		return err
	}
	for i, ci := range u.ContactInfo {
		if _, err := tx.ExecContext(ctx, `
			insert into shadow_user_contact_info (request_uuid, type, description, contact, is_primary, ordinal)
			values ($1, $2, $3, $4, $5, $6)
		`, requestUUID, ci.Type, ci.Description, ci.Contact, boolInt(ci.Primary), i); err != nil {
			return err
		}
	}
	for i, role := range u.Roles {
		if _, err := tx.ExecContext(ctx, `
			insert into shadow_user_roles (request_uuid, role_name, ordinal)
			values ($1, $2, $3)
		`, requestUUID, role, i); err != nil {
			return err
		}
	}
	return nil
}

// Approve promotes the request's shadow user into the canonical directory
// and stamps the approval, as one committed transaction under the store
// lock. Approving an already-approved request is a no-op; a rejected request
// or an occupied canonical uuid conflicts. Whichever of a concurrent
// approve/reject pair takes the lock first wins.
func (r *Requests) Approve(ctx context.Context, uuid, approverUUID string, at time.Time) error {
	if uuid == "" {
		return fmt.Errorf("%w: request uuid is required", provision.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx, err := lease.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	approved, rejected, err := requestVerdict(ctx, tx, uuid)
	if err != nil {
		return err
	}
	if approved {
		return nil
	}
	if rejected {
		return fmt.Errorf("%w: request %s is already rejected", provision.ErrConflict, uuid)
	}
	exists, err := userExists(ctx, tx, uuid)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: user %s already exists", provision.ErrConflict, uuid)
	}

	u, err := shadowUser(ctx, tx, uuid)
	if err != nil {
		return err
	}
	if err := replaceUserTx(ctx, tx, u); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update account_requests
		set approved = 1, approved_by = $1, approved_ts = $2
		where uuid = $3
	`, approverUUID, toMillis(at), uuid); err != nil {
		return err
	}
	return tx.Commit()
}

// Reject stamps the terminal rejection under the store lock. Rejecting an
// already-rejected request is a no-op; an approved request conflicts, since
// approval is final.
func (r *Requests) Reject(ctx context.Context, uuid, rejecterUUID, reason string, at time.Time) error {
	if uuid == "" {
		return fmt.Errorf("%w: request uuid is required", provision.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	tx, err := lease.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	approved, rejected, err := requestVerdict(ctx, tx, uuid)
	if err != nil {
		return err
	}
	if rejected {
		return nil
	}
	if approved {
		return fmt.Errorf("%w: request %s is already approved", provision.ErrConflict, uuid)
	}
	if _, err := tx.ExecContext(ctx, `
		update account_requests
		set rejected = 1, rejected_by = $1, rejected_ts = $2, rejected_reason = $3
		where uuid = $4
	`, rejecterUUID, toMillis(at), reason, uuid); err != nil {
		return err
	}
	return tx.Commit()
}

func requestVerdict(ctx context.Context, q querier, uuid string) (approved, rejected bool, err error) {
	err = q.QueryRowContext(ctx,
		`select approved, rejected from account_requests where uuid = $1`, uuid).
		Scan(&approved, &rejected)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, fmt.Errorf("%w: request %s", provision.ErrNotFound, uuid)
	}
	return approved, rejected, err
}

// GetRequest reassembles one request, shadow user included.
func (r *Requests) GetRequest(ctx context.Context, uuid string) (provision.AccountRequest, error) {
	if uuid == "" {
		return provision.AccountRequest{}, fmt.Errorf("%w: request uuid is required", provision.ErrInvalidInput)
	}
	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return provision.AccountRequest{}, err
	}
	defer lease.Release()

	row := lease.Conn().QueryRowContext(ctx,
		`select `+requestColumns+` from account_requests where uuid = $1`, uuid)
	req, err := scanRequestInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return provision.AccountRequest{}, fmt.Errorf("%w: request %s", provision.ErrNotFound, uuid)
	}
	if err != nil {
		return provision.AccountRequest{}, err
	}
	if err := fillRequestUser(ctx, lease.Conn(), &req); err != nil {
		return provision.AccountRequest{}, err
	}
	return req, nil
}

// ListRequests returns every request regardless of state.
func (r *Requests) ListRequests(ctx context.Context) ([]provision.AccountRequest, error) {
	return r.listWhere(ctx, ``)
}

// ListPending returns requests with no verdict yet.
func (r *Requests) ListPending(ctx context.Context) ([]provision.AccountRequest, error) {
	return r.listWhere(ctx, `where approved = 0 and rejected = 0`)
}

// ListApproved returns requests with a terminal approval.
func (r *Requests) ListApproved(ctx context.Context) ([]provision.AccountRequest, error) {
	return r.listWhere(ctx, `where approved = 1`)
}

// ListRejected returns requests with a terminal rejection.
func (r *Requests) ListRejected(ctx context.Context) ([]provision.AccountRequest, error) {
	return r.listWhere(ctx, `where rejected = 1`)
}

func (r *Requests) listWhere(ctx context.Context, where string) ([]provision.AccountRequest, error) {
	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	query := `select ` + requestColumns + ` from account_requests ` + where + ` order by uuid`
	rows, err := lease.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	var reqs []provision.AccountRequest
	for rows.Next() {
		req, err := scanRequestInto(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range reqs {
		if err := fillRequestUser(ctx, lease.Conn(), &reqs[i]); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

func scanRequestInto(row rowScanner) (provision.AccountRequest, error) {
	var (
		req                      provision.AccountRequest
		justification, vouchName sql.NullString
		vouchContact             sql.NullString
		approved, rejected       bool
		approvedBy, rejectedBy   sql.NullString
		rejectedReason           sql.NullString
		approvedTS, rejectedTS   sql.NullInt64
	)
	err := row.Scan(
		&req.UUID, &req.PasswordHash, &justification, &vouchName, &vouchContact,
		&approved, &approvedBy, &approvedTS,
		&rejected, &rejectedBy, &rejectedTS, &rejectedReason,
	)
	if err != nil {
		return provision.AccountRequest{}, err
	}
	req.Justification = strPtr(justification)
	req.VouchName = strPtr(vouchName)
	req.VouchContact = strPtr(vouchContact)
	req.ApprovedBy = strPtr(approvedBy)
	req.ApprovedAt = timePtr(approvedTS)
	req.RejectedBy = strPtr(rejectedBy)
	req.RejectedReason = strPtr(rejectedReason)
	req.RejectedAt = timePtr(rejectedTS)
	switch {
	case approved:
		req.State = provision.StateApproved
	case rejected:
		req.State = provision.StateRejected
	default:
		req.State = provision.StatePending
	}
	return req, nil
}

// fillRequestUser joins the shadow user data back onto the request row.
func fillRequestUser(ctx context.Context, q querier, req *provision.AccountRequest) error {
	u, err := shadowUser(ctx, q, req.UUID)
	if err != nil {
		return err
	}
	req.User = u
	return nil
}

func shadowUser(ctx context.Context, q querier, requestUUID string) (provision.User, error) {
	row := q.QueryRowContext(ctx,
		`select `+shadowUserColumns+` from shadow_users where request_uuid = $1`, requestUUID)
	// request_uuid scans into User.UUID: the shadow identity is 1:1 with the
	// request until promoted.
	u, err := scanUserInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return provision.User{}, fmt.Errorf("%w: shadow user for request %s", provision.ErrNotFound, requestUUID)
	}
	if err != nil {
		return provision.User{}, err
	}

	contacts, err := contactRows(ctx, q, `
		select type, description, contact, is_primary from shadow_user_contact_info
		where request_uuid = $1
		order by ordinal
	`, requestUUID)
	if err != nil {
		return provision.User{}, err
	}
	u.ContactInfo = contacts

	roles, err := stringRows(ctx, q, `
		select role_name from shadow_user_roles
		where request_uuid = $1
		order by ordinal
	`, requestUUID)
	if err != nil {
		return provision.User{}, err
	}
	u.Roles = roles
	return u, nil
}
