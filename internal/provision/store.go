package provision

import (
	"context"
	"time"
)

// UserStore is the canonical directory: roles and approved users.
// Implementations replace child lists (permissions, contacts, role
// memberships) wholesale on every store call rather than patching them.
type UserStore interface {
	StoreRole(ctx context.Context, role Role) error
	ActivateRole(ctx context.Context, name string) error
	DeactivateRole(ctx context.Context, name string) error
	GetRole(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	StoreUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, uuid string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListUsersByActive(ctx context.Context, active bool) ([]User, error)
	ListUsersByLocked(ctx context.Context, locked bool) ([]User, error)
	UserExists(ctx context.Context, uuid string) (bool, error)
	UUIDByLogin(ctx context.Context, login string) (string, error)
	SetActive(ctx context.Context, uuid string, active bool) error
	SetLocked(ctx context.Context, uuid string, locked bool) error
	SetPasswordByLogin(ctx context.Context, login, passwordHash string) error
	Credentials(ctx context.Context, uuid string) (Credentials, error)
	UpdateCredentials(ctx context.Context, uuid string, creds Credentials) error
}

// RequestStore manages the account-request workflow. Store, Approve and
// Reject are serialized per store instance; reads are not isolated from
// concurrent writers.
type RequestStore interface {
	StoreRequest(ctx context.Context, req AccountRequest) error
	GetRequest(ctx context.Context, uuid string) (AccountRequest, error)
	ListRequests(ctx context.Context) ([]AccountRequest, error)
	ListPending(ctx context.Context) ([]AccountRequest, error)
	ListApproved(ctx context.Context) ([]AccountRequest, error)
	ListRejected(ctx context.Context) ([]AccountRequest, error)
	Approve(ctx context.Context, uuid, approverUUID string, at time.Time) error
	Reject(ctx context.Context, uuid, rejecterUUID, reason string, at time.Time) error
}
