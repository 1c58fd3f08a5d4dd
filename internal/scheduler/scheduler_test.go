package scheduler

import (
	"errors"
	"testing"

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/dag"
	"github.com/coopfed/fednet/internal/fedid"
	"github.com/coopfed/fednet/internal/ledger"
)

func TestSelectCandidatesFiltersAndOrders(t *testing.T) {
	idx := NewIndex()
	did1, did2, did3 := fedid.DID("did:key:zC"), fedid.DID("did:key:zA"), fedid.DID("did:key:zB")
	idx.Register(NodeManifest{NodeDID: did1, ScopeID: "coop-a", Available: true, AvailableResources: map[string]uint64{"compute_unit": 10}})
	idx.Register(NodeManifest{NodeDID: did2, ScopeID: "coop-b", Available: true, AvailableResources: map[string]uint64{"compute_unit": 10}})
	idx.Register(NodeManifest{NodeDID: did3, ScopeID: "coop-c", Available: true, AvailableResources: map[string]uint64{"compute_unit": 20}})

	moduleCid, err := cid.Sum(cid.CodecRaw, []byte("module"))
	if err != nil {
		t.Fatalf("cid.Sum: %v", err)
	}
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10}, 5)

	candidates := idx.SelectCandidates(req)
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates meeting requirement, got %d", len(candidates))
	}
	// did3 has the most capacity (20) and ranks first; did1 and did2 tie at
	// 10 and fall back to DID byte order (did2 < did1).
	if candidates[0].NodeDID != did3 {
		t.Fatalf("expected highest-capacity node first, got %v", candidates[0].NodeDID)
	}
	if candidates[1].NodeDID != did2 || candidates[2].NodeDID != did1 {
		t.Fatalf("expected capacity tie broken by DID order, got %v, %v", candidates[1].NodeDID, candidates[2].NodeDID)
	}
}

func TestSelectCandidatesExcludesUnavailable(t *testing.T) {
	idx := NewIndex()
	avail := fedid.DID("did:key:zAvail")
	unavail := fedid.DID("did:key:zUnavail")
	idx.Register(NodeManifest{NodeDID: avail, Available: true, AvailableResources: map[string]uint64{"compute_unit": 10}})
	idx.Register(NodeManifest{NodeDID: unavail, Available: false, AvailableResources: map[string]uint64{"compute_unit": 100}})

	moduleCid, err := cid.Sum(cid.CodecRaw, []byte("module"))
	if err != nil {
		t.Fatalf("cid.Sum: %v", err)
	}
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 1}, 0)
	candidates := idx.SelectCandidates(req)
	if len(candidates) != 1 || candidates[0].NodeDID != avail {
		t.Fatalf("expected only the available node as a candidate, got %v", candidates)
	}
}

func TestSelectCandidatesNoneSatisfy(t *testing.T) {
	idx := NewIndex()
	idx.Register(NodeManifest{NodeDID: fedid.DID("did:key:zA"), Available: true, AvailableResources: map[string]uint64{"compute_unit": 1}})

	moduleCid, err := cid.Sum(cid.CodecRaw, []byte("module"))
	if err != nil {
		t.Fatalf("cid.Sum: %v", err)
	}
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 100}, 5)
	if got := idx.SelectCandidates(req); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}

func setupDispatch(t *testing.T) (*Dispatcher, *fedid.Identity, fedid.DID, cid.Cid) {
	t.Helper()
	requester, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	executorDID := fedid.DID("did:key:zExecutor")

	resolver := fedid.StaticResolver{requester.DID(): requester.PublicKey()}
	store := dag.NewStore(nil, nil)
	reg := authz.NewRegistry(nil)
	reg.SetPolicy(authz.ScopeConfig{
		ScopeID: "coop-req",
		Rules:   []authz.Rule{{Action: "cross_coop_dispatch", AllowedDIDs: []fedid.DID{requester.DID()}}},
	})
	reg.SetPolicy(authz.ScopeConfig{
		ScopeID: "coop-exec",
		Rules:   []authz.Rule{{Action: "receive_dispatch_payment", AllowedDIDs: []fedid.DID{requester.DID()}}},
	})

	led := ledger.New(store, reg, resolver, nil, nil)
	if _, err := led.Credit(requester, "coop-req", "compute_unit", 100, nil); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	idx := NewIndex()
	idx.Register(NodeManifest{NodeDID: executorDID, ScopeID: "coop-exec", Available: true, AvailableResources: map[string]uint64{"compute_unit": 50}})

	moduleCid, err := cid.Sum(cid.CodecRaw, []byte("module"))
	if err != nil {
		t.Fatalf("cid.Sum: %v", err)
	}
	return NewDispatcher(idx, led, reg, 2), requester, executorDID, moduleCid
}

func TestDispatchCrossCoopSuccess(t *testing.T) {
	d, requester, executorDID, moduleCid := setupDispatch(t)
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10}, 0)

	result, err := d.DispatchCrossCoop(req, requester, nil)
	if err != nil {
		t.Fatalf("DispatchCrossCoop: %v", err)
	}
	if result.Executor.NodeDID != executorDID {
		t.Fatalf("expected executor %s, got %s", executorDID, result.Executor.NodeDID)
	}
	if result.DebitCid.IsZero() || result.CreditCid.IsZero() || result.TransferCid.IsZero() {
		t.Fatal("expected all three ledger legs to anchor")
	}
	// BasePriceMicros=2, 10 units, priority 0 -> price 20.
	if got := d.Ledger.Balance("coop-req", "compute_unit"); got != 80 {
		t.Fatalf("expected requester balance 80, got %d", got)
	}
	if got := d.Ledger.Balance("coop-exec", "compute_unit"); got != 20 {
		t.Fatalf("expected executor balance 20, got %d", got)
	}
}

func TestDispatchCrossCoopPriceScalesWithPriority(t *testing.T) {
	d, requester, _, moduleCid := setupDispatch(t)
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10}, 255)

	if _, err := d.DispatchCrossCoop(req, requester, nil); err != nil {
		t.Fatalf("DispatchCrossCoop: %v", err)
	}
	// BasePriceMicros=2, 10 units -> base 20, priority 255 doubles it to 40.
	if got := d.Ledger.Balance("coop-req", "compute_unit"); got != 60 {
		t.Fatalf("expected requester balance 60 after max-priority dispatch, got %d", got)
	}
}

func TestDispatchCrossCoopNoCandidate(t *testing.T) {
	d, requester, _, moduleCid := setupDispatch(t)
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10000}, 20)

	_, err := d.DispatchCrossCoop(req, requester, nil)
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestDispatchCrossCoopRejectsSameScopeExecutor(t *testing.T) {
	d, requester, _, moduleCid := setupDispatch(t)
	// register a same-scope node with more capacity than the cross-scope executor.
	d.Index.Register(NodeManifest{NodeDID: fedid.DID("did:key:zLocal"), ScopeID: "coop-req", Available: true, AvailableResources: map[string]uint64{"compute_unit": 1000}})

	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10}, 0)
	result, err := d.DispatchCrossCoop(req, requester, nil)
	if err != nil {
		t.Fatalf("DispatchCrossCoop: %v", err)
	}
	if result.Executor.ScopeID == "coop-req" {
		t.Fatal("expected a same-scope candidate to be skipped in favor of a cross-scope executor")
	}
}

func TestDispatchCrossCoopNoEligibleExecutor(t *testing.T) {
	d, requester, _, moduleCid := setupDispatch(t)
	// the only candidate satisfying requirements sits in the requester's own scope.
	onlyIdx := NewIndex()
	onlyIdx.Register(NodeManifest{NodeDID: fedid.DID("did:key:zLocal"), ScopeID: "coop-req", Available: true, AvailableResources: map[string]uint64{"compute_unit": 50}})
	d.Index = onlyIdx

	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10}, 0)
	_, err := d.DispatchCrossCoop(req, requester, nil)
	if !errors.Is(err, ErrNoEligibleExecutor) {
		t.Fatalf("expected ErrNoEligibleExecutor, got %v", err)
	}
}

func TestDispatchCrossCoopUnauthorizedRequester(t *testing.T) {
	d, _, _, moduleCid := setupDispatch(t)
	other, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	req := NewTaskRequest("coop-req", moduleCid, map[string]uint64{"compute_unit": 10}, 20)

	if _, err := d.DispatchCrossCoop(req, other, nil); err == nil {
		t.Fatal("expected unauthorized requester to be rejected before any ledger write")
	}
	if got := d.Ledger.Balance("coop-req", "compute_unit"); got != 100 {
		t.Fatalf("expected balance unchanged after rejected dispatch, got %d", got)
	}
}

func TestNodeManifestShortID(t *testing.T) {
	id, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	m := NodeManifest{NodeDID: id.DID()}
	short, err := m.ShortID()
	if err != nil {
		t.Fatalf("ShortID: %v", err)
	}
	if short == "" {
		t.Fatal("expected a non-empty short id")
	}
}
