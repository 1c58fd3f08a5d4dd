// Package dag implements the content-addressed, signed DAG store: node
// construction, canonical encoding, signature verification, and the
// concurrency-safe store with its tip set and secondary indexes. The
// critical-section discipline mirrors core/ledger.go's mutex-guarded map.
package dag

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

// PayloadKind discriminates the tagged-union governance event carried by a
// Node, matching original_source's EventPayload enum.
type PayloadKind string

const (
	KindGenesis                    PayloadKind = "genesis"
	KindProposal                   PayloadKind = "proposal"
	KindVote                       PayloadKind = "vote"
	KindExecution                  PayloadKind = "execution"
	KindReceipt                    PayloadKind = "receipt"
	KindJoinRequest                PayloadKind = "join_request"
	KindJoinVote                   PayloadKind = "join_vote"
	KindJoinApproval                PayloadKind = "join_approval"
	KindPolicyUpdateProposal        PayloadKind = "policy_update_proposal"
	KindPolicyUpdateVote            PayloadKind = "policy_update_vote"
	KindPolicyUpdateApproval        PayloadKind = "policy_update_approval"
	KindResourceDebit               PayloadKind = "resource_debit"
	KindResourceCredit              PayloadKind = "resource_credit"
	KindCrossCoopTransaction        PayloadKind = "cross_coop_transaction"
	KindCustom                      PayloadKind = "custom"
)

// Scope names the tier a node's Metadata attaches it to: the whole
// federation, a single cooperative, or a community within one.
type Scope string

const (
	ScopeFederation  Scope = "Federation"
	ScopeCooperative Scope = "Cooperative"
	ScopeCommunity   Scope = "Community"
)

// Metadata is the context every Node carries regardless of payload kind:
// which federation it belongs to, which scope tier and (optional) scope
// instance it's filed under, its position in that scope's sequence, and any
// free-form labels. Store indexes (scope, scope_id) for lookup; Sequence and
// Labels are carried for callers but not separately indexed.
type Metadata struct {
	FederationID string
	Scope        Scope
	ScopeID      string
	Sequence     uint64
	Labels       []string
}

// ActionTag returns the authorization action a payload kind maps to, or
// ("", false) for kinds that require no policy check (Genesis, Vote,
// Receipt, JoinVote, PolicyUpdateVote, and Custom payloads that don't name
// one explicitly).
func (k PayloadKind) ActionTag(customAction string) (string, bool) {
	switch k {
	case KindProposal:
		return "submit_proposal", true
	case KindExecution:
		return "execute_proposal", true
	case KindJoinRequest:
		return "submit_join_request", true
	case KindJoinApproval:
		return "approve_join_request", true
	case KindPolicyUpdateProposal:
		return "submit_policy_update_proposal", true
	case KindPolicyUpdateApproval:
		return "approve_policy_update_proposal", true
	case KindCustom:
		if customAction != "" {
			return customAction, true
		}
		return "", false
	default:
		return "", false
	}
}

// Payload is the event body a Node carries. Exactly one field is meaningful
// per Kind; Data holds the canonically-encoded event body for hashing and
// transport, Metadata is non-authoritative context excluded from CustomAction
// lookups.
type Payload struct {
	Kind         PayloadKind
	CustomAction string            // only meaningful when Kind == KindCustom
	Data         []byte            // canonical encoding of the event body
	Metadata     map[string]string
}

// rlpPayload is the deterministic wire shape of Payload. Metadata is
// flattened into a sorted slice of pairs so RLP's field-order encoding is
// fully deterministic regardless of Go map iteration order.
type rlpPayload struct {
	Kind         string
	CustomAction string
	Data         []byte
	MetaKeys     []string
	MetaVals     []string
}

func (p Payload) toRLP() rlpPayload {
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = p.Metadata[k]
	}
	return rlpPayload{
		Kind:         string(p.Kind),
		CustomAction: p.CustomAction,
		Data:         p.Data,
		MetaKeys:     keys,
		MetaVals:     vals,
	}
}

// Node is the unsigned content of a DAG entry: a payload, its author, a
// timestamp, the CIDs of its parent nodes, and the federation/scope metadata
// every node carries regardless of kind.
type Node struct {
	Payload   Payload
	Author    fedid.DID
	Timestamp int64 // unix nanoseconds
	Parents   []cid.Cid
	Meta      Metadata
}

type rlpMetadata struct {
	FederationID string
	Scope        string
	ScopeID      string
	Sequence     uint64
	Labels       []string
}

type rlpNode struct {
	Payload   rlpPayload
	Author    string
	Timestamp int64
	Parents   [][]byte
	Meta      rlpMetadata
}

// CanonicalBytes returns the deterministic RLP encoding of the node used for
// hashing and signing. RLP's struct encoding is field-order-fixed and
// length-prefixed, giving the canonical form the data model requires without
// a bespoke codec.
func (n Node) CanonicalBytes() ([]byte, error) {
	parents := make([][]byte, len(n.Parents))
	for i, p := range n.Parents {
		parents[i] = p.Bytes()
	}
	wire := rlpNode{
		Payload:   n.Payload.toRLP(),
		Author:    string(n.Author),
		Timestamp: n.Timestamp,
		Parents:   parents,
		Meta: rlpMetadata{
			FederationID: n.Meta.FederationID,
			Scope:        string(n.Meta.Scope),
			ScopeID:      n.Meta.ScopeID,
			Sequence:     n.Meta.Sequence,
			Labels:       n.Meta.Labels,
		},
	}
	b, err := rlp.EncodeToBytes(&wire)
	if err != nil {
		return nil, fmt.Errorf("dag: encode node: %w", err)
	}
	return b, nil
}

// SignedNode is a Node plus the CID computed over its canonical bytes and
// the signature authenticating it under Node.Author.
type SignedNode struct {
	Node      Node
	Cid       cid.Cid
	Signature []byte
}

// ErrCidMismatch is returned when a SignedNode's Cid does not match the hash
// of its canonical bytes.
var ErrCidMismatch = errors.New("dag: cid does not match node content")

// ErrInvalidSignature is returned when a SignedNode's signature does not
// verify against its author's resolved public key.
var ErrInvalidSignature = errors.New("dag: invalid signature")

// ErrInvalidParentRefs is returned when a node names a parent CID the store
// does not contain.
var ErrInvalidParentRefs = errors.New("dag: unknown parent reference")

// Sign computes the canonical CID of node and signs it with id, producing a
// SignedNode ready to anchor.
func Sign(node Node, id *fedid.Identity) (SignedNode, error) {
	if node.Author != id.DID() {
		return SignedNode{}, fmt.Errorf("dag: node author %s does not match signer %s", node.Author, id.DID())
	}
	b, err := node.CanonicalBytes()
	if err != nil {
		return SignedNode{}, err
	}
	c, err := cid.Sum(cid.CodecDagBinary, b)
	if err != nil {
		return SignedNode{}, err
	}
	return SignedNode{
		Node:      node,
		Cid:       c,
		Signature: id.Sign(b),
	}, nil
}

// Verify checks that sn's Cid matches its canonical bytes and that its
// signature verifies under the public key resolver returns for its author.
func Verify(sn SignedNode, resolver fedid.KeyResolver) error {
	b, err := sn.Node.CanonicalBytes()
	if err != nil {
		return err
	}
	want, err := cid.Sum(cid.CodecDagBinary, b)
	if err != nil {
		return err
	}
	if !want.Equal(sn.Cid) {
		return ErrCidMismatch
	}
	pub, err := resolver.Resolve(sn.Node.Author)
	if err != nil {
		return fmt.Errorf("dag: resolve author key: %w", err)
	}
	if len(sn.Signature) == 0 || len(pub) != ed25519.PublicKeySize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, b, sn.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
