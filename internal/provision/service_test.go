package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"provreg.org/internal/audit"
)

// fakeUsers is an in-memory UserStore recording what the service hands it.
type fakeUsers struct {
	roles map[string]Role
	users map[string]User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{roles: map[string]Role{}, users: map[string]User{}}
}

func (f *fakeUsers) StoreRole(_ context.Context, role Role) error {
	f.roles[role.Name] = role
	return nil
}

func (f *fakeUsers) setRoleActive(name string, active bool) error {
	role, ok := f.roles[name]
	if !ok {
		return ErrNotFound
	}
	role.Active = active
	f.roles[name] = role
	return nil
}

func (f *fakeUsers) ActivateRole(_ context.Context, name string) error {
	return f.setRoleActive(name, true)
}

func (f *fakeUsers) DeactivateRole(_ context.Context, name string) error {
	return f.setRoleActive(name, false)
}

func (f *fakeUsers) GetRole(_ context.Context, name string) (Role, error) {
	role, ok := f.roles[name]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (f *fakeUsers) ListRoles(context.Context) ([]Role, error) { return nil, nil }

func (f *fakeUsers) StoreUser(_ context.Context, u User) error {
	f.users[u.UUID] = u
	return nil
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (User, error) {
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) ListUsers(context.Context) ([]User, error) { return nil, nil }

func (f *fakeUsers) ListUsersByActive(context.Context, bool) ([]User, error) { return nil, nil }

func (f *fakeUsers) ListUsersByLocked(context.Context, bool) ([]User, error) { return nil, nil }

func (f *fakeUsers) UserExists(_ context.Context, id string) (bool, error) {
	_, ok := f.users[id]
	return ok, nil
}

func (f *fakeUsers) UUIDByLogin(_ context.Context, login string) (string, error) {
	for id, u := range f.users {
		if u.Login == login {
			return id, nil
		}
	}
	return "", ErrNotFound
}

func (f *fakeUsers) SetActive(_ context.Context, id string, active bool) error {
	u, ok := f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	f.users[id] = u
	return nil
}

func (f *fakeUsers) SetLocked(_ context.Context, id string, locked bool) error {
	u, ok := f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Locked = locked
	f.users[id] = u
	return nil
}

func (f *fakeUsers) SetPasswordByLogin(_ context.Context, login, hash string) error {
	id, err := f.UUIDByLogin(context.Background(), login)
	if err != nil {
		return err
	}
	u := f.users[id]
	u.PasswordHash = hash
	f.users[id] = u
	return nil
}

func (f *fakeUsers) Credentials(_ context.Context, id string) (Credentials, error) {
	u, ok := f.users[id]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return Credentials{Credential: u.Credential}, nil
}

func (f *fakeUsers) UpdateCredentials(_ context.Context, id string, creds Credentials) error {
	u, ok := f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Credential = creds.Credential
	f.users[id] = u
	return nil
}

// fakeRequests records filed requests and verdicts.
type fakeRequests struct {
	filed map[string]AccountRequest
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{filed: map[string]AccountRequest{}}
}

func (f *fakeRequests) StoreRequest(_ context.Context, req AccountRequest) error {
	f.filed[req.UUID] = req
	return nil
}

func (f *fakeRequests) GetRequest(_ context.Context, id string) (AccountRequest, error) {
	req, ok := f.filed[id]
	if !ok {
		return AccountRequest{}, ErrNotFound
	}
	return req, nil
}

func (f *fakeRequests) ListRequests(context.Context) ([]AccountRequest, error) { return nil, nil }
func (f *fakeRequests) ListPending(context.Context) ([]AccountRequest, error)  { return nil, nil }
func (f *fakeRequests) ListApproved(context.Context) ([]AccountRequest, error) { return nil, nil }
func (f *fakeRequests) ListRejected(context.Context) ([]AccountRequest, error) { return nil, nil }

func (f *fakeRequests) Approve(_ context.Context, id, approver string, at time.Time) error {
	req, ok := f.filed[id]
	if !ok {
		return ErrNotFound
	}
	req.State = StateApproved
	req.ApprovedBy = &approver
	req.ApprovedAt = &at
	f.filed[id] = req
	return nil
}

func (f *fakeRequests) Reject(_ context.Context, id, rejecter, reason string, at time.Time) error {
	req, ok := f.filed[id]
	if !ok {
		return ErrNotFound
	}
	req.State = StateRejected
	req.RejectedBy = &rejecter
	req.RejectedReason = &reason
	req.RejectedAt = &at
	f.filed[id] = req
	return nil
}

// captureSink records events; optionally fails every Emit.
type captureSink struct {
	events []audit.Event
	fail   bool
}

func (s *captureSink) Emit(_ context.Context, ev audit.Event) error {
	s.events = append(s.events, ev)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func newService(t *testing.T, sink audit.Sink) (*Service, *fakeUsers, *fakeRequests) {
	t.Helper()
	users := newFakeUsers()
	requests := newFakeRequests()
	svc, err := NewService(users, requests, sink)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, users, requests
}

func TestStoreUserAssignsIdentity(t *testing.T) {
	sink := &captureSink{}
	svc, users, _ := newService(t, sink)

	id, err := svc.StoreUser(context.Background(), User{Login: "jdoe", FirstName: "Jane", LastName: "Doe"})
	if err != nil {
		t.Fatalf("StoreUser: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("assigned uuid not parseable: %v", err)
	}
	stored := users.users[id]
	if stored.CreatedAt.IsZero() {
		t.Fatal("expected creation timestamp to be stamped")
	}
	if len(sink.events) != 1 || sink.events[0].Event != audit.EventUserStored {
		t.Fatalf("expected one user.stored event, got %+v", sink.events)
	}
}

func TestStoreUserRejectsMalformedUUID(t *testing.T) {
	svc, _, _ := newService(t, &captureSink{})

	_, err := svc.StoreUser(context.Background(), User{Login: "jdoe", UUID: "not-a-uuid"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFileRequestBindsShadowIdentity(t *testing.T) {
	sink := &captureSink{}
	svc, _, requests := newService(t, sink)

	id, err := svc.FileRequest(context.Background(), AccountRequest{
		User:            User{Login: "applicant"},
		Password:        "pw",
		ConfirmPassword: "pw",
	})
	if err != nil {
		t.Fatalf("FileRequest: %v", err)
	}
	req := requests.filed[id]
	if req.User.UUID != id {
		t.Fatalf("shadow identity not bound: request=%s user=%s", id, req.User.UUID)
	}
	if len(sink.events) != 1 || sink.events[0].Event != audit.EventRequestFiled {
		t.Fatalf("expected one request.filed event, got %+v", sink.events)
	}
}

func TestApproveRequiresApprover(t *testing.T) {
	svc, _, _ := newService(t, &captureSink{})

	err := svc.Approve(context.Background(), uuid.NewString(), "  ", time.Now())
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestApproveStampsTimestampWhenZero(t *testing.T) {
	svc, _, requests := newService(t, &captureSink{})

	id, err := svc.FileRequest(context.Background(), AccountRequest{
		User:            User{Login: "applicant"},
		Password:        "pw",
		ConfirmPassword: "pw",
	})
	if err != nil {
		t.Fatalf("FileRequest: %v", err)
	}
	if err := svc.Approve(context.Background(), id, uuid.NewString(), time.Time{}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	req := requests.filed[id]
	if req.ApprovedAt == nil || req.ApprovedAt.IsZero() {
		t.Fatal("expected approval timestamp to be stamped")
	}
}

func TestAuditFailureNeverAborts(t *testing.T) {
	sink := &captureSink{fail: true}
	svc, users, _ := newService(t, sink)

	if err := svc.StoreRole(context.Background(), Role{Name: "Admin", Active: true}); err != nil {
		t.Fatalf("sink failure leaked into StoreRole: %v", err)
	}
	if _, ok := users.roles["Admin"]; !ok {
		t.Fatal("role not stored")
	}
}

func TestSetPasswordHashesBeforeStore(t *testing.T) {
	svc, users, _ := newService(t, &captureSink{})

	id, err := svc.StoreUser(context.Background(), User{Login: "jdoe"})
	if err != nil {
		t.Fatalf("StoreUser: %v", err)
	}
	if err := svc.SetPassword(context.Background(), "jdoe", "hunter2"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	hash := users.users[id].PasswordHash
	if hash == "hunter2" || hash == "" {
		t.Fatal("password stored unhashed")
	}
	if err := VerifyPassword(hash, "hunter2"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestSetLockedSelectsEvent(t *testing.T) {
	sink := &captureSink{}
	svc, _, _ := newService(t, sink)

	id, err := svc.StoreUser(context.Background(), User{Login: "jdoe"})
	if err != nil {
		t.Fatalf("StoreUser: %v", err)
	}
	if err := svc.SetLocked(context.Background(), id, true); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	if err := svc.SetLocked(context.Background(), id, false); err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(sink.events))
	}
	if sink.events[1].Event != audit.EventUserLocked || sink.events[2].Event != audit.EventUserUnlocked {
		t.Fatalf("unexpected events: %+v", sink.events[1:])
	}
}
