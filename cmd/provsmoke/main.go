// provsmoke runs the full provisioning workflow against a live, already
// migrated database: store a role, file an account request, approve it and
// verify the canonical user. Exits non-zero on the first mismatch.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"provreg.org/internal/audit"
	"provreg.org/internal/config"
	"provreg.org/internal/obs"
	"provreg.org/internal/pool"
	"provreg.org/internal/provision"
	"provreg.org/internal/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	obs.Init()
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", obs.Handler())
			_ = http.ListenAndServe(cfg.Metrics.Addr, mux)
		}()
	}

	db, err := sqlstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr, err := pool.NewManager(db, cfg.Database.MaxConns, pool.WithTimeout(cfg.Database.AcquireTimeout))
	if err != nil {
		log.Fatalf("pool: %v", err)
	}

	svc, err := provision.NewService(sqlstore.NewDirectory(mgr), sqlstore.NewRequests(mgr), audit.NewLogSink())
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run := uuid.NewString()[:8]
	roleName := "smoke-" + run

	if err := svc.StoreRole(ctx, provision.Role{
		Name:        roleName,
		Permissions: []string{"Admin", "User"},
		Active:      true,
	}); err != nil {
		log.Fatalf("store role: %v", err)
	}
	role, err := svc.GetRole(ctx, roleName)
	if err != nil {
		log.Fatalf("get role: %v", err)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != "Admin" || role.Permissions[1] != "User" {
		log.Fatalf("role permissions out of order: %v", role.Permissions)
	}

	approverUUID, err := svc.StoreUser(ctx, provision.User{
		Login:     "smoke-approver-" + run,
		FirstName: "Smoke",
		LastName:  "Approver",
		Active:    true,
		Roles:     []string{roleName},
	})
	if err != nil {
		log.Fatalf("store approver: %v", err)
	}

	reqUUID, err := svc.FileRequest(ctx, provision.AccountRequest{
		User: provision.User{
			Login:     "smoke-applicant-" + run,
			FirstName: "Smoke",
			LastName:  "Applicant",
			Active:    true,
			Roles:     []string{roleName},
			ContactInfo: []provision.ContactInfo{
				{Type: "email", Contact: "smoke@example.org", Primary: true},
			},
		},
		Password:        "smoke-secret",
		ConfirmPassword: "smoke-secret",
	})
	if err != nil {
		log.Fatalf("file request: %v", err)
	}

	req, err := svc.GetRequest(ctx, reqUUID)
	if err != nil {
		log.Fatalf("get request: %v", err)
	}
	if req.State != provision.StatePending {
		log.Fatalf("expected pending request, got %s", req.State)
	}

	if err := svc.Approve(ctx, reqUUID, approverUUID, time.Now().UTC()); err != nil {
		log.Fatalf("approve: %v", err)
	}
	// Second approval must be a no-op.
	if err := svc.Approve(ctx, reqUUID, approverUUID, time.Now().UTC()); err != nil {
		log.Fatalf("re-approve: %v", err)
	}

	user, err := svc.GetUser(ctx, reqUUID)
	if err != nil {
		log.Fatalf("get promoted user: %v", err)
	}
	if user.Login != "smoke-applicant-"+run {
		log.Fatalf("unexpected promoted login: %s", user.Login)
	}
	if len(user.ContactInfo) != 1 || !user.ContactInfo[0].Primary {
		log.Fatalf("contact info lost in promotion: %+v", user.ContactInfo)
	}

	fmt.Printf("provisioning smoke test passed: request=%s user=%s\n", reqUUID, user.UUID)
}
