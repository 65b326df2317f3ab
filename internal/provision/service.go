package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"provreg.org/internal/audit"
)

// Service coordinates the canonical directory and the account-request store
// and emits audit events for every successful mutation. Audit is
// fire-and-forget: a sink failure never aborts a provisioning operation.
type Service struct {
	users    UserStore
	requests RequestStore
	sink     audit.Sink
}

// NewService builds a Service. A nil sink silently discards audit events.
func NewService(users UserStore, requests RequestStore, sink audit.Sink) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if requests == nil {
		return nil, errors.New("request store is required")
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Service{users: users, requests: requests, sink: sink}, nil
}

func (s *Service) emit(ctx context.Context, event, actor, subject string, fields map[string]any) {
	_ = s.sink.Emit(ctx, audit.Event{
		Event:       event,
		ActorUUID:   actor,
		SubjectUUID: subject,
		Fields:      fields,
	})
}

// StoreRole persists the role, replacing any previous permission list.
func (s *Service) StoreRole(ctx context.Context, role Role) error {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if err := s.users.StoreRole(ctx, role); err != nil {
		return err
	}
	s.emit(ctx, audit.EventRoleStored, "", "", map[string]any{
		"role":        role.Name,
		"permissions": len(role.Permissions),
	})
	return nil
}

// ActivateRole marks a role usable for assignment.
func (s *Service) ActivateRole(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := s.users.ActivateRole(ctx, name); err != nil {
		return err
	}
	s.emit(ctx, audit.EventRoleActivated, "", "", map[string]any{"role": name})
	return nil
}

// DeactivateRole retires a role without deleting it.
func (s *Service) DeactivateRole(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := s.users.DeactivateRole(ctx, name); err != nil {
		return err
	}
	s.emit(ctx, audit.EventRoleDeactivated, "", "", map[string]any{"role": name})
	return nil
}

// GetRole returns one role with its ordered permissions.
func (s *Service) GetRole(ctx context.Context, name string) (Role, error) {
	return s.users.GetRole(ctx, strings.TrimSpace(name))
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.users.ListRoles(ctx)
}

// StoreUser persists a user directly into the canonical directory,
// assigning a fresh uuid when none is given. Role names on the user are not
// checked against the role store.
func (s *Service) StoreUser(ctx context.Context, u User) (string, error) {
	u.Login = strings.TrimSpace(u.Login)
	if u.Login == "" {
		return "", fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(u.UUID); err != nil {
		return "", fmt.Errorf("%w: malformed uuid %q", ErrInvalidInput, u.UUID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if err := s.users.StoreUser(ctx, u); err != nil {
		return "", err
	}
	s.emit(ctx, audit.EventUserStored, "", u.UUID, map[string]any{"login": u.Login})
	return u.UUID, nil
}

// GetUser returns one canonical user with assembled children.
func (s *Service) GetUser(ctx context.Context, userUUID string) (User, error) {
	return s.users.GetUser(ctx, strings.TrimSpace(userUUID))
}

// ListUsers returns every canonical user.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.users.ListUsers(ctx)
}

// ListUsersByActive filters canonical users on the active flag.
func (s *Service) ListUsersByActive(ctx context.Context, active bool) ([]User, error) {
	return s.users.ListUsersByActive(ctx, active)
}

// ListUsersByLocked filters canonical users on the locked flag.
func (s *Service) ListUsersByLocked(ctx context.Context, locked bool) ([]User, error) {
	return s.users.ListUsersByLocked(ctx, locked)
}

// UserExists reports whether the canonical directory holds the uuid.
func (s *Service) UserExists(ctx context.Context, userUUID string) (bool, error) {
	return s.users.UserExists(ctx, strings.TrimSpace(userUUID))
}

// UUIDByLogin resolves a login to its uuid.
func (s *Service) UUIDByLogin(ctx context.Context, login string) (string, error) {
	return s.users.UUIDByLogin(ctx, strings.TrimSpace(login))
}

// SetActive flips the user's active flag.
func (s *Service) SetActive(ctx context.Context, userUUID string, active bool) error {
	userUUID = strings.TrimSpace(userUUID)
	if err := s.users.SetActive(ctx, userUUID, active); err != nil {
		return err
	}
	event := audit.EventUserDeactivated
	if active {
		event = audit.EventUserActivated
	}
	s.emit(ctx, event, "", userUUID, nil)
	return nil
}

// SetLocked flips the user's locked flag.
func (s *Service) SetLocked(ctx context.Context, userUUID string, locked bool) error {
	userUUID = strings.TrimSpace(userUUID)
	if err := s.users.SetLocked(ctx, userUUID, locked); err != nil {
		return err
	}
	event := audit.EventUserUnlocked
	if locked {
		event = audit.EventUserLocked
	}
	s.emit(ctx, event, "", userUUID, nil)
	return nil
}

// SetPassword hashes the plaintext and stores it for the login.
func (s *Service) SetPassword(ctx context.Context, login, password string) error {
	login = strings.TrimSpace(login)
	if login == "" {
		return fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.users.SetPasswordByLogin(ctx, login, hash); err != nil {
		return err
	}
	s.emit(ctx, audit.EventPasswordChanged, "", "", map[string]any{"login": login})
	return nil
}

// Credentials reads a user's smart-card attributes.
func (s *Service) Credentials(ctx context.Context, userUUID string) (Credentials, error) {
	return s.users.Credentials(ctx, strings.TrimSpace(userUUID))
}

// UpdateCredentials replaces a user's smart-card attributes as a unit.
func (s *Service) UpdateCredentials(ctx context.Context, userUUID string, creds Credentials) error {
	userUUID = strings.TrimSpace(userUUID)
	if err := s.users.UpdateCredentials(ctx, userUUID, creds); err != nil {
		return err
	}
	s.emit(ctx, audit.EventUserStored, "", userUUID, map[string]any{"credentials": true})
	return nil
}

// FileRequest opens an account request, assigning a fresh uuid when none is
// given. The embedded user takes the request's uuid: the shadow identity is
// 1:1 with the request until promoted.
func (s *Service) FileRequest(ctx context.Context, req AccountRequest) (string, error) {
	req.User.Login = strings.TrimSpace(req.User.Login)
	if req.User.Login == "" {
		return "", fmt.Errorf("%w: login is required", ErrInvalidInput)
	}
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(req.UUID); err != nil {
		return "", fmt.Errorf("%w: malformed uuid %q", ErrInvalidInput, req.UUID)
	}
	req.User.UUID = req.UUID
	if req.User.CreatedAt.IsZero() {
		req.User.CreatedAt = time.Now().UTC()
	}
	if err := s.requests.StoreRequest(ctx, req); err != nil {
		return "", err
	}
	s.emit(ctx, audit.EventRequestFiled, "", req.UUID, map[string]any{"login": req.User.Login})
	return req.UUID, nil
}

// GetRequest returns one request with its shadow user.
func (s *Service) GetRequest(ctx context.Context, requestUUID string) (AccountRequest, error) {
	return s.requests.GetRequest(ctx, strings.TrimSpace(requestUUID))
}

// ListRequests returns every request.
func (s *Service) ListRequests(ctx context.Context) ([]AccountRequest, error) {
	return s.requests.ListRequests(ctx)
}

// ListPending returns requests awaiting a verdict.
func (s *Service) ListPending(ctx context.Context) ([]AccountRequest, error) {
	return s.requests.ListPending(ctx)
}

// ListApproved returns approved requests.
func (s *Service) ListApproved(ctx context.Context) ([]AccountRequest, error) {
	return s.requests.ListApproved(ctx)
}

// ListRejected returns rejected requests.
func (s *Service) ListRejected(ctx context.Context) ([]AccountRequest, error) {
	return s.requests.ListRejected(ctx)
}

// Approve promotes a pending request into the canonical directory.
func (s *Service) Approve(ctx context.Context, requestUUID, approverUUID string, at time.Time) error {
	requestUUID = strings.TrimSpace(requestUUID)
	approverUUID = strings.TrimSpace(approverUUID)
	if approverUUID == "" {
		return fmt.Errorf("%w: approver uuid is required", ErrInvalidInput)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := s.requests.Approve(ctx, requestUUID, approverUUID, at); err != nil {
		return err
	}
	s.emit(ctx, audit.EventRequestApproved, approverUUID, requestUUID, nil)
	return nil
}

// Reject records a terminal rejection for a pending request.
func (s *Service) Reject(ctx context.Context, requestUUID, rejecterUUID, reason string, at time.Time) error {
	requestUUID = strings.TrimSpace(requestUUID)
	rejecterUUID = strings.TrimSpace(rejecterUUID)
	if rejecterUUID == "" {
		return fmt.Errorf("%w: rejecter uuid is required", ErrInvalidInput)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := s.requests.Reject(ctx, requestUUID, rejecterUUID, reason, at); err != nil {
		return err
	}
	s.emit(ctx, audit.EventRequestRejected, rejecterUUID, requestUUID, map[string]any{"reason": reason})
	return nil
}
