// Package scheduler implements the capability-indexed executor matching and
// cross-scope dispatch contract: selecting a candidate node for a task by
// resource requirements and writing the resulting resource transfer
// atomically into the ledger. Node manifests are grounded on
// original_source's icn-types::mesh::{JobManifest,NodeCapability}.
package scheduler

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // retained for deterministic short node ids, matching core/wallet.go's address derivation

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
	"github.com/coopfed/fednet/internal/ledger"
)

// NodeManifest advertises an executor's available resources and optional,
// non-binding feature tags. SupportedFeatures does not gate candidate
// selection; it is informational context a scheduler extension may use.
// Available gates selection outright: an unavailable node is never a
// candidate regardless of its advertised capacity.
type NodeManifest struct {
	NodeDID             fedid.DID
	ScopeID             string
	Available           bool
	AvailableResources  map[string]uint64
	SupportedFeatures   []string
}

// remainingCapacity sums a manifest's advertised resource amounts, the
// value SelectCandidates ranks candidates by (descending) before falling
// back to DID byte order.
func (m NodeManifest) remainingCapacity() uint64 {
	var total uint64
	for _, amount := range m.AvailableResources {
		total += amount
	}
	return total
}

// ShortID returns a deterministic, human-shareable identifier for the node,
// derived the way core/wallet.go derives an address from a public key:
// sha256 then ripemd160, base58-encoded.
func (m NodeManifest) ShortID() (string, error) {
	pub, err := m.NodeDID.PublicKey()
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256(pub)
	r := ripemd160.New()
	if _, err := r.Write(sha[:]); err != nil {
		return "", err
	}
	return base58.Encode(r.Sum(nil)), nil
}

// TaskRequest describes a cross-scope unit of work seeking an executor.
// Priority scales the dispatch price computed in DispatchCrossCoop; it does
// not affect candidate selection.
type TaskRequest struct {
	ID                   string
	RequesterScopeID     string
	ModuleCid            cid.Cid
	ResourceRequirements map[string]uint64
	Priority             uint8
}

// NewTaskRequest allocates a TaskRequest with a fresh id.
func NewTaskRequest(requesterScopeID string, moduleCid cid.Cid, resources map[string]uint64, priority uint8) TaskRequest {
	return TaskRequest{
		ID:                   uuid.NewString(),
		RequesterScopeID:     requesterScopeID,
		ModuleCid:            moduleCid,
		ResourceRequirements: resources,
		Priority:             priority,
	}
}

// ErrNoCandidate is returned when no registered node satisfies a task's
// resource requirements.
var ErrNoCandidate = errors.New("scheduler: no candidate node satisfies requirements")

// ErrNoEligibleExecutor is returned when candidates exist but none sit in a
// scope other than the requester's own: cross-scope dispatch cannot settle a
// task against its own origin.
var ErrNoEligibleExecutor = errors.New("scheduler: no eligible executor outside requester's scope")

// Index is the capability-indexed registry of executor nodes available for
// dispatch.
type Index struct {
	mu    sync.RWMutex
	nodes map[fedid.DID]NodeManifest
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{nodes: make(map[fedid.DID]NodeManifest)}
}

// Register adds or replaces a node's manifest.
func (idx *Index) Register(m NodeManifest) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.nodes[m.NodeDID] = m
}

// Unregister removes a node from the index.
func (idx *Index) Unregister(did fedid.DID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.nodes, did)
}

// SelectCandidates returns every available registered node whose
// AvailableResources meet or exceed req's requirements for every named
// resource type, ranked by remaining capacity descending and tie-broken by
// DID byte order so repeated calls over the same index state return the
// same order.
func (idx *Index) SelectCandidates(req TaskRequest) []NodeManifest {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var candidates []NodeManifest
	for _, m := range idx.nodes {
		if !m.Available {
			continue
		}
		if satisfies(m, req.ResourceRequirements) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i].remainingCapacity(), candidates[j].remainingCapacity()
		if ci != cj {
			return ci > cj
		}
		return candidates[i].NodeDID < candidates[j].NodeDID
	})
	return candidates
}

func satisfies(m NodeManifest, req map[string]uint64) bool {
	for rt, amount := range req {
		if m.AvailableResources[rt] < amount {
			return false
		}
	}
	return true
}

// Dispatcher matches tasks to candidates and carries out the cross-scope
// dispatch contract: authorize, select deterministically, and write the
// ledger transfer atomically.
type Dispatcher struct {
	Index           *Index
	Ledger          *ledger.Ledger
	Policy          *authz.Registry
	BasePriceMicros uint64
}

// NewDispatcher constructs a Dispatcher. basePriceMicros prices one unit of
// requested resource at priority 0; a zero value falls back to 1.
func NewDispatcher(index *Index, led *ledger.Ledger, policy *authz.Registry, basePriceMicros uint64) *Dispatcher {
	if basePriceMicros == 0 {
		basePriceMicros = 1
	}
	return &Dispatcher{Index: index, Ledger: led, Policy: policy, BasePriceMicros: basePriceMicros}
}

// price computes the cross-scope dispatch price from a task's resource
// requirements and priority: the sum of requested units at BasePriceMicros
// each, scaled up by up to 2x as priority rises from 0 to 255.
func (d *Dispatcher) price(resources map[string]uint64, priority uint8) uint64 {
	var units uint64
	for _, amount := range resources {
		units += amount
	}
	base := units * d.BasePriceMicros
	return base + (base*uint64(priority))/255
}

// DispatchResult reports the chosen executor and the ledger CIDs recording
// the resulting resource transfer.
type DispatchResult struct {
	Executor    NodeManifest
	DebitCid    cid.Cid
	CreditCid   cid.Cid
	TransferCid cid.Cid
}

// DispatchCrossCoop runs the five-step cross-scope dispatch contract:
//  1. authorize the requester for "cross_coop_dispatch" on its own scope
//  2. select deterministic candidates by capability, capacity, and availability
//  3. pick the highest-ranked candidate in a scope other than the requester's
//  4. authorize the payment transfer between the two scopes
//  5. atomically write the three-node ledger transfer, priced from the
//     task's resource requirements and priority
//
// No DAG write happens before step 1's authorization succeeds.
func (d *Dispatcher) DispatchCrossCoop(req TaskRequest, requester *fedid.Identity, parents []cid.Cid) (DispatchResult, error) {
	if err := d.Policy.Authorize(req.RequesterScopeID, requester.DID(), "cross_coop_dispatch"); err != nil {
		return DispatchResult{}, fmt.Errorf("scheduler: dispatch not authorized: %w", err)
	}

	candidates := d.Index.SelectCandidates(req)
	if len(candidates) == 0 {
		return DispatchResult{}, ErrNoCandidate
	}
	var executor NodeManifest
	found := false
	for _, c := range candidates {
		if c.ScopeID != req.RequesterScopeID {
			executor = c
			found = true
			break
		}
	}
	if !found {
		return DispatchResult{}, ErrNoEligibleExecutor
	}

	if err := d.Policy.Authorize(executor.ScopeID, requester.DID(), "receive_dispatch_payment"); err != nil {
		return DispatchResult{}, fmt.Errorf("scheduler: payment not authorized: %w", err)
	}

	amount := d.price(req.ResourceRequirements, req.Priority)
	debitCid, creditCid, transferCid, err := d.Ledger.Transfer(requester, req.RequesterScopeID, executor.ScopeID, "compute_unit", amount, parents)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("scheduler: ledger transfer failed: %w", err)
	}

	return DispatchResult{
		Executor:    executor,
		DebitCid:    debitCid,
		CreditCid:   creditCid,
		TransferCid: transferCid,
	}, nil
}
