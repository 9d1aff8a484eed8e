package approval

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grail-labs/overlord/internal/plan"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func safePlan(now time.Time) plan.ChangePlan {
	return plan.New(
		"Increase API retry attempts",
		plan.ScopeParameter,
		"score degradation",
		"fewer fallbacks",
		map[string]float64{"api_retry_count": 5},
		now,
	)
}

func TestNewRejectsNonSafePlans(t *testing.T) {
	now := time.Now()

	logic := plan.New("change flow", plan.ScopeLogic, "j", "g", nil, now)
	if _, err := New(logic, "alice", "ok", time.Hour, now); err == nil {
		t.Fatal("review-tier plan must not be approvable")
	}

	arch := plan.New("restructure", plan.ScopeArchitecture, "j", "g", nil, now)
	if _, err := New(arch, "alice", "ok", time.Hour, now); err == nil {
		t.Fatal("forbidden-tier plan must not be approvable")
	}
}

func TestChecksumDetectsTampering(t *testing.T) {
	now := time.Now()
	a, err := New(safePlan(now), "alice", "looks good", 48*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if !a.VerifyIntegrity() {
		t.Fatal("fresh approval must pass integrity")
	}

	a.Plan.ProposedValues["api_retry_count"] = 99
	if a.VerifyIntegrity() {
		t.Fatal("value tampering must break integrity")
	}

	a.Plan.ProposedValues["api_retry_count"] = 5
	if !a.VerifyIntegrity() {
		t.Fatal("restoring the value must restore integrity")
	}

	a.Plan.Description = "something else"
	if a.VerifyIntegrity() {
		t.Fatal("description tampering must break integrity")
	}
}

func TestChecksumIsDeterministic(t *testing.T) {
	p := safePlan(time.Now())
	if PlanChecksum(p) != PlanChecksum(p) {
		t.Fatal("checksum must be stable for the same plan")
	}

	other := p
	other.ProposedValues = map[string]float64{"api_retry_count": 4}
	if PlanChecksum(p) == PlanChecksum(other) {
		t.Fatal("different values must give different checksums")
	}
}

func TestLazyExpiry(t *testing.T) {
	approvedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(safePlan(approvedAt), "alice", "ok", 48*time.Hour, approvedAt)
	if err != nil {
		t.Fatal(err)
	}

	if !a.IsValid(approvedAt.Add(time.Hour)) {
		t.Fatal("approval should be valid within the TTL")
	}
	if a.IsValid(approvedAt.Add(49 * time.Hour)) {
		t.Fatal("approval must expire past the TTL")
	}
	if a.Status != StatusExpired {
		t.Fatalf("crossing the TTL must flip status to expired, got %s", a.Status)
	}
	// Once expired, even an in-window check stays invalid.
	if a.IsValid(approvedAt.Add(time.Hour)) {
		t.Fatal("expired approvals never become valid again")
	}
}

func TestTransitions(t *testing.T) {
	now := time.Now()
	a, err := New(safePlan(now), "alice", "ok", time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}

	a.MarkApplied(now)
	if a.Status != StatusApplied || a.AppliedAt == nil {
		t.Fatalf("unexpected applied state: %+v", a)
	}
	if a.IsValid(now) {
		t.Fatal("applied approvals are consumed")
	}

	b, _ := New(safePlan(now), "alice", "ok", time.Hour, now)
	b.Revoke("changed my mind", now)
	if b.Status != StatusRevoked || b.RevokeReason != "changed my mind" {
		t.Fatalf("unexpected revoked state: %+v", b)
	}
}

func TestRegistryRehydrates(t *testing.T) {
	db := newTestDB(t)
	reg, err := NewRegistry(db)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	a, err := New(safePlan(now), "alice", "ok", 48*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(a); err != nil {
		t.Fatal(err)
	}

	// A second registry over the same database sees the approval.
	reg2, err := NewRegistry(db)
	if err != nil {
		t.Fatal(err)
	}
	got := reg2.ByPlanID(a.PlanID)
	if got == nil {
		t.Fatal("expected the approval after rehydration")
	}
	if got.Checksum != a.Checksum {
		t.Fatal("checksum must survive the round trip")
	}
	if !got.VerifyIntegrity() {
		t.Fatal("rehydrated approval must pass integrity")
	}
}

func TestValidApprovalsFiltering(t *testing.T) {
	reg, err := NewRegistry(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	reg.SetClock(func() time.Time { return now })

	valid, _ := New(safePlan(now), "alice", "ok", 48*time.Hour, now)
	expired, _ := New(safePlan(now.Add(-72*time.Hour)), "alice", "ok", 48*time.Hour, now.Add(-72*time.Hour))
	tampered, _ := New(safePlan(now), "alice", "ok", 48*time.Hour, now)
	for _, a := range []*ApprovedChangePlan{valid, expired, tampered} {
		if err := reg.Add(a); err != nil {
			t.Fatal(err)
		}
	}
	tampered.Plan.ProposedValues["api_retry_count"] = 99

	got := reg.ValidApprovals()
	if len(got) != 1 {
		t.Fatalf("expected exactly the valid approval, got %d", len(got))
	}
	if got[0].PlanID != valid.PlanID {
		t.Fatalf("wrong approval survived: %s", got[0].PlanID)
	}
	if expired.Status != StatusExpired {
		t.Fatalf("filtering should lazily expire, got %s", expired.Status)
	}
}

func TestApproverWorkflow(t *testing.T) {
	db := newTestDB(t)
	plans, err := plan.NewRegistry(db)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewRegistry(db)
	if err != nil {
		t.Fatal(err)
	}
	approver, err := NewApprover(db, plans, reg)
	if err != nil {
		t.Fatal(err)
	}

	p := safePlan(time.Now())
	if err := plans.Add(p); err != nil {
		t.Fatal(err)
	}

	res := approver.RequestApproval(p, "overlord")
	if res.Status != "pending" || res.RequestID == "" {
		t.Fatalf("expected pending request, got %+v", res)
	}

	// Non-safe plans are refused at request time.
	logic := plan.New("change flow", plan.ScopeLogic, "j", "g", nil, time.Now())
	res = approver.RequestApproval(logic, "overlord")
	if res.Status != "rejected" {
		t.Fatalf("review-tier request must be rejected, got %+v", res)
	}

	approved, err := approver.Approve(p, "alice", "fine", 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if approved.ApprovedBy != "alice" {
		t.Fatalf("unexpected approver: %s", approved.ApprovedBy)
	}
	stored, err := plans.Get(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != plan.StatusApproved {
		t.Fatalf("plan status should follow approval, got %s", stored.Status)
	}

	p2 := safePlan(time.Now())
	if err := plans.Add(p2); err != nil {
		t.Fatal(err)
	}
	if err := approver.Reject(p2, "bob", "not now"); err != nil {
		t.Fatal(err)
	}
	stored, _ = plans.Get(p2.ID)
	if stored.Status != plan.StatusRejected {
		t.Fatalf("plan status should follow rejection, got %s", stored.Status)
	}
}
