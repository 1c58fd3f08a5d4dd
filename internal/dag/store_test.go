package dag

import (
	"testing"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

func signChild(t *testing.T, id *fedid.Identity, parents []cid.Cid, data string) SignedNode {
	t.Helper()
	node := Node{
		Payload: Payload{Kind: KindCustom, CustomAction: "noop", Data: []byte(data)},
		Author:  id.DID(),
		Parents: parents,
	}
	sn, err := Sign(node, id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return sn
}

func TestAddNodeAndTips(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	genesis := signChild(t, id, nil, "genesis")
	if _, err := store.AddNode(genesis, resolver); err != nil {
		t.Fatalf("AddNode genesis: %v", err)
	}

	tips := store.GetTips()
	if len(tips) != 1 || !tips[0].Equal(genesis.Cid) {
		t.Fatalf("expected single tip = genesis, got %v", tips)
	}

	child := signChild(t, id, []cid.Cid{genesis.Cid}, "child")
	if _, err := store.AddNode(child, resolver); err != nil {
		t.Fatalf("AddNode child: %v", err)
	}

	tips = store.GetTips()
	if len(tips) != 1 || !tips[0].Equal(child.Cid) {
		t.Fatalf("expected tip set to advance to child, got %v", tips)
	}
}

func TestAddNodeRejectsUnknownParent(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	orphanParent := signChild(t, id, nil, "never-added")
	child := signChild(t, id, []cid.Cid{orphanParent.Cid}, "child")

	if _, err := store.AddNode(child, resolver); err == nil {
		t.Fatal("expected error for node referencing an unknown parent")
	}
}

func TestAddNodeIdempotent(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	genesis := signChild(t, id, nil, "genesis")
	c1, err := store.AddNode(genesis, resolver)
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	c2, err := store.AddNode(genesis, resolver)
	if err != nil {
		t.Fatalf("AddNode (re-add): %v", err)
	}
	if !c1.Equal(c2) {
		t.Fatal("re-adding the same node should be idempotent")
	}
	if len(store.GetTips()) != 1 {
		t.Fatal("re-adding should not duplicate the tip")
	}
}

func TestGetOrderedNodesRespectsParentEdges(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	genesis := signChild(t, id, nil, "genesis")
	if _, err := store.AddNode(genesis, resolver); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	child := signChild(t, id, []cid.Cid{genesis.Cid}, "child")
	if _, err := store.AddNode(child, resolver); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	ordered := store.GetOrderedNodes()
	if len(ordered) != 2 {
		t.Fatalf("expected 2 ordered nodes, got %d", len(ordered))
	}
	if !ordered[0].Cid.Equal(genesis.Cid) || !ordered[1].Cid.Equal(child.Cid) {
		t.Fatal("expected genesis before child in topological order")
	}
}

func TestFindPathAndVerifyBranch(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	genesis := signChild(t, id, nil, "genesis")
	store.AddNode(genesis, resolver)
	child := signChild(t, id, []cid.Cid{genesis.Cid}, "child")
	store.AddNode(child, resolver)

	path, ok := store.FindPath(child.Cid, genesis.Cid)
	if !ok || len(path) != 2 {
		t.Fatalf("expected a 2-node path from child to genesis, got %v (ok=%v)", path, ok)
	}

	if err := store.VerifyBranch(child.Cid, resolver); err != nil {
		t.Fatalf("VerifyBranch: %v", err)
	}
}

func TestGetByScopeIndex(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	scoped := Node{
		Payload: Payload{Kind: KindCustom, CustomAction: "noop", Data: []byte("a")},
		Author:  id.DID(),
		Meta:    Metadata{FederationID: "fed-1", Scope: ScopeCooperative, ScopeID: "coop-a"},
	}
	sn, err := Sign(scoped, id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := store.AddNode(sn, resolver); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	other := Node{
		Payload: Payload{Kind: KindCustom, CustomAction: "noop", Data: []byte("b")},
		Author:  id.DID(),
		Meta:    Metadata{FederationID: "fed-1", Scope: ScopeCooperative, ScopeID: "coop-b"},
	}
	snOther, err := Sign(other, id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := store.AddNode(snOther, resolver); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	unscoped := signChild(t, id, nil, "unscoped")
	if _, err := store.AddNode(unscoped, resolver); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	if got := store.GetByScope(ScopeCooperative, "coop-a"); len(got) != 1 || !got[0].Equal(sn.Cid) {
		t.Fatalf("GetByScope(coop-a) mismatch: %v", got)
	}
	if got := store.GetByScope(ScopeCooperative, ""); len(got) != 2 {
		t.Fatalf("expected both cooperative-scoped nodes with no scope_id filter, got %v", got)
	}
	if got := store.GetByScope(ScopeFederation, ""); len(got) != 0 {
		t.Fatalf("expected no Federation-scoped nodes, got %v", got)
	}
}

func TestByAuthorAndByKindIndexes(t *testing.T) {
	id := mustIdentity(t)
	resolver := fedid.StaticResolver{id.DID(): id.PublicKey()}
	store := NewStore(nil, nil)

	genesis := signChild(t, id, nil, "genesis")
	store.AddNode(genesis, resolver)

	if got := store.GetByAuthor(id.DID()); len(got) != 1 || !got[0].Equal(genesis.Cid) {
		t.Fatalf("GetByAuthor mismatch: %v", got)
	}
	if got := store.GetByKind(KindCustom); len(got) != 1 || !got[0].Equal(genesis.Cid) {
		t.Fatalf("GetByKind mismatch: %v", got)
	}
	if got := store.GetByKind(KindGenesis); len(got) != 0 {
		t.Fatalf("expected no nodes of KindGenesis, got %v", got)
	}
}
