package quorum

import (
	"errors"
	"fmt"

	"github.com/coopfed/fednet/internal/cid"
)

// ErrPolicyLineageBroken is returned when walking a policy's
// previous-policy chain finds a cycle or a missing ancestor before reaching
// a genesis policy (one with no previous_policy_cid).
var ErrPolicyLineageBroken = errors.New("quorum: policy lineage broken")

// PolicyRecord is an anchored PolicyUpdateProposal/Approval payload: the
// scope config CID it installs and the CID of the policy it supersedes, if
// any.
type PolicyRecord struct {
	Cid                cid.Cid
	PreviousPolicyCid  cid.Cid // zero value for a genesis policy
}

// PolicyLookup resolves a policy record by its CID, the interface
// Walk uses instead of depending on internal/dag directly.
type PolicyLookup interface {
	LookupPolicy(c cid.Cid) (PolicyRecord, bool)
}

// Walk follows the previous_policy_cid chain from head back to its genesis
// ancestor, returning the full lineage from genesis to head. It fails with
// ErrPolicyLineageBroken on a cycle or a missing ancestor.
func Walk(head cid.Cid, lookup PolicyLookup) ([]PolicyRecord, error) {
	visited := make(map[cid.Cid]bool)
	var chain []PolicyRecord

	cur := head
	for {
		if visited[cur] {
			return nil, fmt.Errorf("%w: cycle at %s", ErrPolicyLineageBroken, cur)
		}
		visited[cur] = true

		rec, ok := lookup.LookupPolicy(cur)
		if !ok {
			return nil, fmt.Errorf("%w: missing ancestor %s", ErrPolicyLineageBroken, cur)
		}
		chain = append(chain, rec)

		if rec.PreviousPolicyCid.IsZero() {
			break
		}
		cur = rec.PreviousPolicyCid
	}

	// reverse into genesis-to-head order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
