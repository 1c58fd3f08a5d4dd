// Package quorum implements quorum policies, proofs, and trust bundles: the
// federation's way of saying "this set of signatures suffices to finalize
// this data" without a total-order consensus protocol. Grounded on
// core/dao_proposal.go's tally/execute flow and original_source's
// icn-types::quorum.
package quorum

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

// PolicyKind names the quorum evaluation rule a Policy applies.
type PolicyKind string

const (
	PolicyAll        PolicyKind = "all"
	PolicyMajority   PolicyKind = "majority"
	PolicyThreshold  PolicyKind = "threshold"
	PolicyWeighted   PolicyKind = "weighted"
)

// Policy describes how many and which signatures a bundle needs to be
// considered final.
type Policy struct {
	Kind      PolicyKind
	Percent   float64             // PolicyThreshold: required fraction of Signers, e.g. 0.66
	Signers   []fedid.DID         // eligible signer set for All/Majority/Threshold
	Weights   map[fedid.DID]float64 // PolicyWeighted: signer -> weight
	Threshold float64             // PolicyWeighted: required weighted sum
}

// ErrUnknownPolicyKind is returned when a Policy names a Kind the evaluator
// does not recognize.
var ErrUnknownPolicyKind = errors.New("quorum: unknown policy kind")

// QuorumNotMetError reports that a proof's signatures do not satisfy policy.
type QuorumNotMetError struct {
	Policy Policy
	Got    int
	Need   string
}

func (e *QuorumNotMetError) Error() string {
	return fmt.Sprintf("quorum: not met: have %d signatures, need %s", e.Got, e.Need)
}

// ErrDuplicateSignerIgnored is a soft warning: a proof carried more than one
// signature from the same signer, and only the first was counted.
var ErrDuplicateSignerIgnored = errors.New("quorum: duplicate signer ignored")

// Proof is the set of signatures claimed to satisfy a Policy over some
// anchored data.
type Proof struct {
	DataCid    cid.Cid
	PolicyID   string
	Signatures []Signature
}

// Signature pairs a signer DID with its signature over Proof.DataCid's
// bytes.
type Signature struct {
	Signer fedid.DID
	Sig    []byte
}

// Verify checks each signature in the proof cryptographically (via
// resolver) and then evaluates policy over the surviving signer set. It
// returns (true, ErrDuplicateSignerIgnored) as a soft warning when a
// duplicate was dropped but quorum still held; a duplicate never counts
// toward quorum twice.
func (p Proof) Verify(policy Policy, resolver fedid.KeyResolver) (bool, error) {
	seen := make(map[fedid.DID]bool, len(p.Signatures))
	var warn error
	var validSigners []fedid.DID

	for _, s := range p.Signatures {
		if seen[s.Signer] {
			warn = ErrDuplicateSignerIgnored
			continue
		}
		pub, err := resolver.Resolve(s.Signer)
		if err != nil {
			continue // unresolvable signer does not count toward quorum
		}
		if len(pub) != ed25519.PublicKeySize {
			continue
		}
		if !ed25519.Verify(pub, p.DataCid.Bytes(), s.Sig) {
			continue
		}
		seen[s.Signer] = true
		validSigners = append(validSigners, s.Signer)
	}

	ok, err := policy.Evaluate(validSigners)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, warn
}

// Evaluate reports whether signers satisfies policy.
func (p Policy) Evaluate(signers []fedid.DID) (bool, error) {
	set := make(map[fedid.DID]bool, len(signers))
	for _, s := range signers {
		set[s] = true
	}

	switch p.Kind {
	case PolicyAll:
		for _, s := range p.Signers {
			if !set[s] {
				return false, nil
			}
		}
		return len(p.Signers) > 0, nil

	case PolicyMajority:
		if len(p.Signers) == 0 {
			return false, nil
		}
		count := 0
		for _, s := range p.Signers {
			if set[s] {
				count++
			}
		}
		return count*2 > len(p.Signers), nil

	case PolicyThreshold:
		if len(p.Signers) == 0 {
			return false, nil
		}
		count := 0
		for _, s := range p.Signers {
			if set[s] {
				count++
			}
		}
		return float64(count) >= p.Percent*float64(len(p.Signers)), nil

	case PolicyWeighted:
		var sum float64
		for signer := range set {
			sum += p.Weights[signer]
		}
		return sum >= p.Threshold, nil

	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownPolicyKind, p.Kind)
	}
}

// Bundle anchors a Proof and the Policy it was evaluated against into a
// single verifiable record, suitable for writing to the DAG as trust
// evidence for DataCid.
type Bundle struct {
	Proof  Proof
	Policy Policy
	Met    bool
}

// VerifyBundle re-runs signature and policy checks over a Bundle, failing
// closed if Met disagrees with the recomputed result.
func VerifyBundle(b Bundle, resolver fedid.KeyResolver) error {
	met, err := b.Proof.Verify(b.Policy, resolver)
	if err != nil && !errors.Is(err, ErrDuplicateSignerIgnored) {
		return err
	}
	if met != b.Met {
		return fmt.Errorf("quorum: bundle claims met=%v but recomputation found met=%v", b.Met, met)
	}
	if !met {
		return &QuorumNotMetError{Policy: b.Policy, Got: len(b.Proof.Signatures)}
	}
	return nil
}

// SortedSigners returns signers in deterministic order, used when building
// canonical bytes for a policy that must itself be hashed (e.g. anchored as
// a PolicyUpdateProposal payload).
func SortedSigners(signers []fedid.DID) []fedid.DID {
	out := make([]fedid.DID, len(signers))
	copy(out, signers)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
