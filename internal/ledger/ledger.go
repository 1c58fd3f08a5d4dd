// Package ledger implements the per-scope resource balance sheet and its
// DAG-anchored mutations: debit, credit, transfer, burn, and mint. Grounded
// on core/ledger.go's mutex-guarded balance map and logrus event emission,
// with transaction kinds taken from original_source's
// icn-economics::transaction::TransactionType.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/dag"
	"github.com/coopfed/fednet/internal/fedid"
)

// ErrInsufficientFunds is returned when a debit or transfer would take a
// balance negative.
var ErrInsufficientFunds = errors.New("ledger: insufficient balance")

// TxKind names a ledger mutation kind.
type TxKind string

const (
	TxDebit    TxKind = "debit"
	TxCredit   TxKind = "credit"
	TxTransfer TxKind = "transfer"
	TxBurn     TxKind = "burn"
	TxMint     TxKind = "mint"
)

type balanceKey struct {
	ScopeID      string
	ResourceType string
}

// Entry is a single recorded ledger mutation, the payload of the DAG node
// each balance change anchors.
type Entry struct {
	Kind         TxKind
	ResourceType string
	Amount       uint64
	SourceScope  string
	DestScope    string
	AuthorityDID fedid.DID
	TimestampUTC int64
}

// Ledger tracks (scope, resource type) -> balance and anchors every signed
// mutation into the DAG, under one critical section per mutation, applying
// the balance change only after its DAG record is written so no observer
// ever sees a balance without its corresponding DAG record.
// RecordResourceUsage is the exception: it changes a balance without
// writing any DAG node.
type Ledger struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64

	store    *dag.Store
	policy   *authz.Registry
	resolver fedid.KeyResolver

	log  *logrus.Logger
	slog *zap.SugaredLogger
}

// New constructs a Ledger anchoring its mutations into store and gating
// burn/mint through policy.
func New(store *dag.Store, policy *authz.Registry, resolver fedid.KeyResolver, log *logrus.Logger, slog *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = logrus.New()
	}
	if slog == nil {
		slog = zap.NewNop().Sugar()
	}
	return &Ledger{
		balances: make(map[balanceKey]uint64),
		store:    store,
		policy:   policy,
		resolver: resolver,
		log:      log,
		slog:     slog,
	}
}

// Balance returns the current balance for scope/resourceType.
func (l *Ledger) Balance(scopeID, resourceType string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{scopeID, resourceType}]
}

// Credit increases a scope's balance and anchors the mutation.
func (l *Ledger) Credit(signer *fedid.Identity, scopeID, resourceType string, amount uint64, parents []cid.Cid) (cid.Cid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.anchor(signer, Entry{Kind: TxCredit, ResourceType: resourceType, DestScope: scopeID, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: time.Now().UnixNano()}, parents)
	if err != nil {
		return cid.Cid{}, err
	}
	l.balances[balanceKey{scopeID, resourceType}] += amount
	return c, nil
}

// Debit decreases a scope's balance and anchors the mutation, failing
// without mutating state if the balance would go negative.
func (l *Ledger) Debit(signer *fedid.Identity, scopeID, resourceType string, amount uint64, parents []cid.Cid) (cid.Cid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{scopeID, resourceType}
	if l.balances[key] < amount {
		return cid.Cid{}, fmt.Errorf("%w: scope %s has %d %s, need %d", ErrInsufficientFunds, scopeID, l.balances[key], resourceType, amount)
	}
	c, err := l.anchor(signer, Entry{Kind: TxDebit, ResourceType: resourceType, SourceScope: scopeID, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: time.Now().UnixNano()}, parents)
	if err != nil {
		return cid.Cid{}, err
	}
	l.balances[key] -= amount
	return c, nil
}

// Transfer atomically moves amount of resourceType from source to dest and
// anchors a single three-node write (debit, credit, transfer-record) so no
// observer ever sees a partial transfer: if any of the three writes fails
// the whole critical section returns an error with neither balance mutated
// (the in-memory balances are mutated together, only after all three DAG
// writes have succeeded).
func (l *Ledger) Transfer(signer *fedid.Identity, source, dest, resourceType string, amount uint64, parents []cid.Cid) (debitCid, creditCid, transferCid cid.Cid, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	srcKey := balanceKey{source, resourceType}
	dstKey := balanceKey{dest, resourceType}
	if l.balances[srcKey] < amount {
		return cid.Cid{}, cid.Cid{}, cid.Cid{}, fmt.Errorf("%w: scope %s has %d %s, need %d", ErrInsufficientFunds, source, l.balances[srcKey], resourceType, amount)
	}

	now := time.Now().UnixNano()
	debitCid, err = l.anchor(signer, Entry{Kind: TxDebit, ResourceType: resourceType, SourceScope: source, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: now}, parents)
	if err != nil {
		return cid.Cid{}, cid.Cid{}, cid.Cid{}, err
	}
	creditCid, err = l.anchor(signer, Entry{Kind: TxCredit, ResourceType: resourceType, DestScope: dest, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: now}, []cid.Cid{debitCid})
	if err != nil {
		return cid.Cid{}, cid.Cid{}, cid.Cid{}, err
	}
	transferCid, err = l.anchor(signer, Entry{Kind: TxTransfer, ResourceType: resourceType, SourceScope: source, DestScope: dest, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: now}, []cid.Cid{debitCid, creditCid})
	if err != nil {
		return cid.Cid{}, cid.Cid{}, cid.Cid{}, err
	}

	l.balances[srcKey] -= amount
	l.balances[dstKey] += amount

	l.slog.Infow("ledger transfer", "source", source, "dest", dest, "resource", resourceType, "amount", amount)
	return debitCid, creditCid, transferCid, nil
}

// Burn destroys resourceType balance from scopeID, requiring policy to
// authorize the signer's DID for "burn_resource" on scopeID.
func (l *Ledger) Burn(signer *fedid.Identity, scopeID, resourceType string, amount uint64, parents []cid.Cid) (cid.Cid, error) {
	if err := l.authorize(scopeID, signer.DID(), "burn_resource"); err != nil {
		return cid.Cid{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{scopeID, resourceType}
	if l.balances[key] < amount {
		return cid.Cid{}, fmt.Errorf("%w: scope %s has %d %s, need %d", ErrInsufficientFunds, scopeID, l.balances[key], resourceType, amount)
	}
	c, err := l.anchor(signer, Entry{Kind: TxBurn, ResourceType: resourceType, SourceScope: scopeID, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: time.Now().UnixNano()}, parents)
	if err != nil {
		return cid.Cid{}, err
	}
	l.balances[key] -= amount
	return c, nil
}

// Mint creates new resourceType balance for scopeID, requiring policy to
// authorize the signer's DID for "mint_resource" on scopeID.
func (l *Ledger) Mint(signer *fedid.Identity, scopeID, resourceType string, amount uint64, parents []cid.Cid) (cid.Cid, error) {
	if err := l.authorize(scopeID, signer.DID(), "mint_resource"); err != nil {
		return cid.Cid{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.anchor(signer, Entry{Kind: TxMint, ResourceType: resourceType, DestScope: scopeID, Amount: amount, AuthorityDID: signer.DID(), TimestampUTC: time.Now().UnixNano()}, parents)
	if err != nil {
		return cid.Cid{}, err
	}
	l.balances[balanceKey{scopeID, resourceType}] += amount
	return c, nil
}

func (l *Ledger) authorize(scopeID string, did fedid.DID, action string) error {
	if l.policy == nil {
		return fmt.Errorf("ledger: no policy registry configured, cannot authorize %s", action)
	}
	return l.policy.Authorize(scopeID, did, action)
}

// payloadKindForTx maps a ledger mutation kind onto the DAG payload kind
// spec.md names for it. Burn rides ResourceDebit and mint rides
// ResourceCredit: both are economic subtypes of a balance decrease/increase,
// distinguished in the decoded Entry.Kind, not at the payload-kind level.
func payloadKindForTx(kind TxKind) dag.PayloadKind {
	switch kind {
	case TxDebit, TxBurn:
		return dag.KindResourceDebit
	case TxCredit, TxMint:
		return dag.KindResourceCredit
	case TxTransfer:
		return dag.KindCrossCoopTransaction
	default:
		return dag.KindCustom
	}
}

// anchor signs and writes an Entry as a ResourceDebit, ResourceCredit, or
// CrossCoopTransaction DAG payload. Callers must hold l.mu already.
func (l *Ledger) anchor(signer *fedid.Identity, entry Entry, parents []cid.Cid) (cid.Cid, error) {
	data, err := encodeEntry(entry)
	if err != nil {
		return cid.Cid{}, err
	}
	scopeID := entry.SourceScope
	if scopeID == "" {
		scopeID = entry.DestScope
	}
	node := dag.Node{
		Payload: dag.Payload{
			Kind: payloadKindForTx(entry.Kind),
			Data: data,
		},
		Author:    signer.DID(),
		Timestamp: entry.TimestampUTC,
		Parents:   parents,
		Meta:      dag.Metadata{Scope: dag.ScopeCooperative, ScopeID: scopeID},
	}
	signed, err := dag.Sign(node, signer)
	if err != nil {
		return cid.Cid{}, err
	}
	c, err := l.store.AddNode(signed, l.resolver)
	if err != nil {
		return cid.Cid{}, err
	}
	l.log.WithFields(logrus.Fields{"kind": entry.Kind, "resource": entry.ResourceType, "amount": entry.Amount}).Info("ledger: mutation anchored")
	return c, nil
}

// History replays every ledger mutation anchored under scopeID (as either
// source or destination) by scanning the DAG's ResourceDebit/ResourceCredit/
// CrossCoopTransaction nodes and decoding their Entry payloads, in the
// DAG's topological order (parents before children, ties broken by CID).
func (l *Ledger) History(scopeID string) ([]Entry, error) {
	var out []Entry
	for _, sn := range l.store.GetOrderedNodes() {
		switch sn.Node.Payload.Kind {
		case dag.KindResourceDebit, dag.KindResourceCredit, dag.KindCrossCoopTransaction:
		default:
			continue
		}
		entry, err := decodeEntry(sn.Node.Payload.Data)
		if err != nil {
			return nil, err
		}
		if entry.SourceScope == scopeID || entry.DestScope == scopeID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// CheckResourceAuthorization implements execution.ResourceAuthorizer: a
// scope may spend resourceType up to its current balance.
func (l *Ledger) CheckResourceAuthorization(scopeID, resourceType string, amount uint64) error {
	if l.Balance(scopeID, resourceType) < amount {
		return fmt.Errorf("%w: scope %s has insufficient %s", ErrInsufficientFunds, scopeID, resourceType)
	}
	return nil
}

// RecordResourceUsage implements execution.ResourceAuthorizer by debiting
// the consumed amount from scopeID's balance, unsigned (used for
// metered-but-not-separately-authorized in-engine consumption; callers that
// need an anchored record should call Debit directly).
func (l *Ledger) RecordResourceUsage(scopeID, resourceType string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey{scopeID, resourceType}
	if l.balances[key] < amount {
		return fmt.Errorf("%w: scope %s has insufficient %s", ErrInsufficientFunds, scopeID, resourceType)
	}
	l.balances[key] -= amount
	return nil
}
