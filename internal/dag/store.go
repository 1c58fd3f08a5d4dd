package dag

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
	"github.com/coopfed/fednet/internal/storekv"
)

// NodeNotFoundError is returned when a referenced CID is not in the store.
type NodeNotFoundError struct {
	Cid cid.Cid
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("dag: node not found: %s", e.Cid)
}

// Store is the concurrency-safe DAG store. A single mutex guards the
// in-memory tip set and all secondary indexes (author, payload kind, and
// (scope, scope_id)) so that no observer ever sees a node indexed without
// its tip/author/kind/scope entries also applied, matching core/ledger.go's
// single critical section per mutation. Each signed node is durably
// persisted, JSON-encoded, through an internal/storekv.KV, the opaque byte-store boundary
// this package never assumes a concrete backend for; the in-memory map is a
// read cache over that boundary, repopulated from kv by loadFromKV on
// construction.
type Store struct {
	mu sync.Mutex

	kv    storekv.KV
	nodes map[cid.Cid]SignedNode
	tips  map[cid.Cid]struct{}

	byAuthor map[fedid.DID][]cid.Cid
	byKind   map[PayloadKind][]cid.Cid

	// byScope and byScopeAny are the REQUIRED (scope, scope_id) -> []CID
	// secondary index: byScope keys on the full (scope, scope_id) pair,
	// byScopeAny keys on scope alone for callers that query every node in a
	// scope tier regardless of which scope instance filed it.
	byScope    map[scopeKey][]cid.Cid
	byScopeAny map[Scope][]cid.Cid

	log *logrus.Logger
}

// scopeKey is the composite key byScope indexes on.
type scopeKey struct {
	Scope   Scope
	ScopeID string
}

// NewStore constructs a Store backed by kv. A nil kv defaults to an
// in-process storekv.Memory; a nil logger defaults to logrus.New().
func NewStore(kv storekv.KV, log *logrus.Logger) *Store {
	if kv == nil {
		kv = storekv.NewMemory()
	}
	if log == nil {
		log = logrus.New()
	}
	s := &Store{
		kv:         kv,
		nodes:      make(map[cid.Cid]SignedNode),
		tips:       make(map[cid.Cid]struct{}),
		byAuthor:   make(map[fedid.DID][]cid.Cid),
		byKind:     make(map[PayloadKind][]cid.Cid),
		byScope:    make(map[scopeKey][]cid.Cid),
		byScopeAny: make(map[Scope][]cid.Cid),
		log:        log,
	}
	s.loadFromKV()
	return s
}

// nodeKey is the storekv byte key a SignedNode's canonical encoding is
// persisted under.
func nodeKey(c cid.Cid) []byte {
	return append([]byte("dag/node/"), c.Bytes()...)
}

// loadFromKV rebuilds the in-memory indexes from whatever kv already holds,
// so a Store opened over a populated backend comes up warm. Nodes are
// replayed in an arbitrary order and then the tip set is recomputed once
// every node is indexed, since a parent may be iterated after its child.
func (s *Store) loadFromKV() {
	var loaded []SignedNode
	_ = s.kv.Iterate([]byte("dag/node/"), func(_, value []byte) bool {
		var sn SignedNode
		if err := json.Unmarshal(value, &sn); err == nil {
			loaded = append(loaded, sn)
		}
		return true
	})
	for _, sn := range loaded {
		s.nodes[sn.Cid] = sn
		s.byAuthor[sn.Node.Author] = append(s.byAuthor[sn.Node.Author], sn.Cid)
		s.byKind[sn.Node.Payload.Kind] = append(s.byKind[sn.Node.Payload.Kind], sn.Cid)
		s.indexScope(sn)
	}
	for c := range s.nodes {
		s.tips[c] = struct{}{}
	}
	for _, sn := range loaded {
		for _, p := range sn.Node.Parents {
			delete(s.tips, p)
		}
	}
}

// AddNode validates and inserts a signed node. Parent CIDs must already be
// present (genesis nodes have no parents). On success the node's parents are
// removed from the tip set and the node itself becomes a tip.
func (s *Store) AddNode(sn SignedNode, resolver fedid.KeyResolver) (cid.Cid, error) {
	if err := Verify(sn, resolver); err != nil {
		return cid.Cid{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[sn.Cid]; exists {
		return sn.Cid, nil // idempotent re-add of an already-anchored node
	}

	for _, p := range sn.Node.Parents {
		if _, ok := s.nodes[p]; !ok {
			return cid.Cid{}, fmt.Errorf("%w: %s", ErrInvalidParentRefs, p)
		}
	}

	encoded, err := json.Marshal(sn)
	if err != nil {
		return cid.Cid{}, fmt.Errorf("dag: encode node for storage: %w", err)
	}
	if err := s.kv.Put(nodeKey(sn.Cid), encoded); err != nil {
		return cid.Cid{}, fmt.Errorf("dag: persist node: %w", err)
	}

	s.nodes[sn.Cid] = sn
	for _, p := range sn.Node.Parents {
		delete(s.tips, p)
	}
	s.tips[sn.Cid] = struct{}{}

	s.byAuthor[sn.Node.Author] = append(s.byAuthor[sn.Node.Author], sn.Cid)
	s.byKind[sn.Node.Payload.Kind] = append(s.byKind[sn.Node.Payload.Kind], sn.Cid)
	s.indexScope(sn)

	s.log.WithFields(logrus.Fields{
		"cid":    sn.Cid.String(),
		"author": sn.Node.Author,
		"kind":   sn.Node.Payload.Kind,
	}).Debug("dag: node added")

	return sn.Cid, nil
}

// GetNode returns the signed node stored under c.
func (s *Store) GetNode(c cid.Cid) (SignedNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.nodes[c]
	if !ok {
		return SignedNode{}, &NodeNotFoundError{Cid: c}
	}
	return sn, nil
}

// GetTips returns the current set of tip CIDs (nodes with no recorded
// children), in a deterministic sorted order.
func (s *Store) GetTips() []cid.Cid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cid.Cid, 0, len(s.tips))
	for c := range s.tips {
		out = append(out, c)
	}
	sortCids(out)
	return out
}

// GetOrderedNodes returns every node reachable from the tips in a
// deterministic topological order (parents before children), breaking ties
// by CID string so the order is reproducible across processes.
func (s *Store) GetOrderedNodes() []SignedNode {
	s.mu.Lock()
	all := make([]SignedNode, 0, len(s.nodes))
	for _, sn := range s.nodes {
		all = append(all, sn)
	}
	s.mu.Unlock()

	indeg := make(map[cid.Cid]int, len(all))
	children := make(map[cid.Cid][]cid.Cid, len(all))
	byCid := make(map[cid.Cid]SignedNode, len(all))
	for _, sn := range all {
		byCid[sn.Cid] = sn
		if _, ok := indeg[sn.Cid]; !ok {
			indeg[sn.Cid] = 0
		}
		for _, p := range sn.Node.Parents {
			indeg[sn.Cid]++
			children[p] = append(children[p], sn.Cid)
		}
	}

	var ready []cid.Cid
	for c, d := range indeg {
		if d == 0 {
			ready = append(ready, c)
		}
	}
	sortCids(ready)

	ordered := make([]SignedNode, 0, len(all))
	for len(ready) > 0 {
		sortCids(ready)
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byCid[next])
		for _, ch := range children[next] {
			indeg[ch]--
			if indeg[ch] == 0 {
				ready = append(ready, ch)
			}
		}
	}
	return ordered
}

// GetByAuthor returns the CIDs of nodes authored by did, insertion order.
func (s *Store) GetByAuthor(did fedid.DID) []cid.Cid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cid.Cid, len(s.byAuthor[did]))
	copy(out, s.byAuthor[did])
	return out
}

// GetByKind returns the CIDs of nodes of the given payload kind, insertion
// order.
func (s *Store) GetByKind(kind PayloadKind) []cid.Cid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cid.Cid, len(s.byKind[kind]))
	copy(out, s.byKind[kind])
	return out
}

// indexScope records sn under its Metadata's (scope, scope_id) index
// entries. Callers must hold s.mu.
func (s *Store) indexScope(sn SignedNode) {
	scope := sn.Node.Meta.Scope
	if scope == "" {
		return
	}
	s.byScopeAny[scope] = append(s.byScopeAny[scope], sn.Cid)
	if sn.Node.Meta.ScopeID != "" {
		key := scopeKey{Scope: scope, ScopeID: sn.Node.Meta.ScopeID}
		s.byScope[key] = append(s.byScope[key], sn.Cid)
	}
}

// GetByScope returns the CIDs of nodes filed under scope, insertion order. An
// empty scopeID returns every node in that scope tier regardless of which
// scope instance filed it; a non-empty scopeID narrows to that instance.
func (s *Store) GetByScope(scope Scope, scopeID string) []cid.Cid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scopeID == "" {
		out := make([]cid.Cid, len(s.byScopeAny[scope]))
		copy(out, s.byScopeAny[scope])
		return out
	}
	src := s.byScope[scopeKey{Scope: scope, ScopeID: scopeID}]
	out := make([]cid.Cid, len(src))
	copy(out, src)
	return out
}

// FindPath returns a sequence of CIDs from `from` to `to` following parent
// edges (to must be a (possibly indirect) ancestor of from), or false if no
// such path exists.
func (s *Store) FindPath(from, to cid.Cid) ([]cid.Cid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from.Equal(to) {
		return []cid.Cid{from}, true
	}
	visited := map[cid.Cid]bool{}
	var walk func(cur cid.Cid) []cid.Cid
	walk = func(cur cid.Cid) []cid.Cid {
		if visited[cur] {
			return nil
		}
		visited[cur] = true
		sn, ok := s.nodes[cur]
		if !ok {
			return nil
		}
		for _, p := range sn.Node.Parents {
			if p.Equal(to) {
				return []cid.Cid{cur, p}
			}
			if path := walk(p); path != nil {
				return append([]cid.Cid{cur}, path...)
			}
		}
		return nil
	}
	path := walk(from)
	return path, path != nil
}

// VerifyBranch re-validates every node on the path from tip back to its
// genesis ancestors: CID integrity, signature validity, and parent
// connectivity.
func (s *Store) VerifyBranch(tip cid.Cid, resolver fedid.KeyResolver) error {
	s.mu.Lock()
	visited := map[cid.Cid]bool{}
	var nodesToCheck []SignedNode
	var walk func(c cid.Cid) error
	walk = func(c cid.Cid) error {
		if visited[c] {
			return nil
		}
		visited[c] = true
		sn, ok := s.nodes[c]
		if !ok {
			return &NodeNotFoundError{Cid: c}
		}
		nodesToCheck = append(nodesToCheck, sn)
		for _, p := range sn.Node.Parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	err := walk(tip)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for _, sn := range nodesToCheck {
		if err := Verify(sn, resolver); err != nil {
			return fmt.Errorf("dag: branch verification failed at %s: %w", sn.Cid, err)
		}
	}
	return nil
}

func sortCids(cs []cid.Cid) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].String() < cs[j].String() })
}
