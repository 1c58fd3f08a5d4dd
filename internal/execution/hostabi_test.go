package execution

import (
	"errors"
	"testing"

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

type stubResources struct {
	authErr   error
	recordErr error
}

func (s *stubResources) CheckResourceAuthorization(scopeID, resourceType string, amount uint64) error {
	return s.authErr
}

func (s *stubResources) RecordResourceUsage(scopeID, resourceType string, amount uint64) error {
	return s.recordErr
}

func TestHostContextCheckPolicyAuthorization(t *testing.T) {
	id, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	reg := authz.NewRegistry(nil)
	reg.SetPolicy(authz.ScopeConfig{
		ScopeType: "cooperative",
		ScopeID:   "coop-a",
		Rules:     []authz.Rule{{Action: "do_thing", AllowedDIDs: []fedid.DID{id.DID()}}},
	})
	host := &HostContext{CallerDID: id.DID(), ScopeID: "coop-a", Policy: reg}

	if code := host.CheckPolicyAuthorization("", "", "do_thing", ""); code != 0 {
		t.Fatalf("expected code 0 for authorized action with host defaults, got %d", code)
	}
	if code := host.CheckPolicyAuthorization("", "", "other_thing", ""); code != 1 {
		t.Fatalf("expected code 1 for ErrActionNotPermitted, got %d", code)
	}
	if host.GetError() == "" {
		t.Fatal("expected GetError to carry the last failure message")
	}
	host.ClearError()
	if host.GetError() != "" {
		t.Fatal("expected ClearError to reset the error slot")
	}

	if code := host.CheckPolicyAuthorization("cooperative", "coop-a", "do_thing", string(id.DID())); code != 0 {
		t.Fatalf("expected code 0 with explicit scope_type/scope_id/did, got %d", code)
	}
	if code := host.CheckPolicyAuthorization("federation", "coop-a", "do_thing", string(id.DID())); code != 2 {
		t.Fatalf("expected code 2 for scope_type mismatch, got %d", code)
	}
}

func TestHostContextResourceAuthorization(t *testing.T) {
	host := &HostContext{Resources: &stubResources{authErr: errors.New("nope")}}
	if code := host.CheckResourceAuthorization("compute_unit", 10); code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	host2 := &HostContext{Resources: &stubResources{}}
	if code := host2.CheckResourceAuthorization("compute_unit", 10); code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if code := host2.RecordResourceUsage("compute_unit", 10); code != 0 {
		t.Fatalf("expected code 0 recording usage, got %d", code)
	}
}

func TestHostContextNoResourcesConfigured(t *testing.T) {
	host := &HostContext{}
	if code := host.CheckResourceAuthorization("compute_unit", 1); code != 5 {
		t.Fatalf("expected internal error code 5 with no resources configured, got %d", code)
	}
}

func TestHostContextVerifySignature(t *testing.T) {
	id, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	host := &HostContext{Resolver: resolver}

	msg := []byte("payload")
	sig := id.Sign(msg)
	if !host.VerifySignature(id.DID(), msg, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if host.VerifySignature(id.DID(), []byte("tampered"), sig) {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestHostContextAnchorToDAGRecordsIntent(t *testing.T) {
	host := &HostContext{}
	c, err := cid.Sum(cid.CodecRaw, []byte("anchor me"))
	if err != nil {
		t.Fatalf("cid.Sum: %v", err)
	}
	host.AnchorToDAG(c)
	got := host.AnchoredCids()
	if len(got) != 1 || !got[0].Equal(c) {
		t.Fatalf("expected anchored cid to be recorded, got %v", got)
	}
}

func TestHostContextLogsIsolated(t *testing.T) {
	host := &HostContext{}
	host.LogMessage("one")
	host.LogMessage("two")
	logs := host.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	logs[0] = "mutated"
	if host.Logs()[0] == "mutated" {
		t.Fatal("Logs() should return a copy, not the internal slice")
	}
}
