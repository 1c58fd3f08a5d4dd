package execution

import (
	"crypto/ed25519"
	"sync"

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/dag"
	"github.com/coopfed/fednet/internal/fedid"
)

// ResourceAuthorizer checks whether a scope may consume a resource, and
// records usage once consumed. Backed by internal/ledger in production.
type ResourceAuthorizer interface {
	CheckResourceAuthorization(scopeID, resourceType string, amount uint64) error
	RecordResourceUsage(scopeID, resourceType string, amount uint64) error
}

// HostContext is the state a module execution runs against: the caller's
// identity, the scope it's executing on behalf of, and the collaborators the
// host ABI functions delegate to. One HostContext backs exactly one
// Execute call; it is not reused across calls.
type HostContext struct {
	CallerDID fedid.DID
	ScopeID   string

	Policy    *authz.Registry
	Resources ResourceAuthorizer
	Store     *dag.Store
	Resolver  fedid.KeyResolver

	mu       sync.Mutex
	errSlot  string
	logs     []string
	anchored []cid.Cid
}

// LogMessage implements host_log_message: append msg to the execution's log
// buffer, returned to the caller in the run's Outcome.Logs.
func (h *HostContext) LogMessage(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, msg)
}

// Logs returns the accumulated log lines.
func (h *HostContext) Logs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.logs))
	copy(out, h.logs)
	return out
}

// CheckPolicyAuthorization implements host_check_policy_authorization,
// the 4-pair (scope_type, scope_id, action, did) form. An empty scopeID or
// did falls back to the host's own fixed ScopeID/CallerDID, letting a module
// check its own authorization without having to restate them. Returns the
// numeric error-code table: 0 ok, 1 ActionNotPermitted, 2
// UnauthorizedScopeAccess, 3 DidNotInAllowlist, 4 PolicyNotFound, 5
// internal/other.
func (h *HostContext) CheckPolicyAuthorization(scopeType, scopeID, action, did string) int32 {
	if h.Policy == nil {
		return 5
	}
	target := scopeID
	if target == "" {
		target = h.ScopeID
	}
	callerDID := fedid.DID(did)
	if callerDID == "" {
		callerDID = h.CallerDID
	}
	err := h.Policy.AuthorizeScoped(scopeType, target, callerDID, action)
	code := authz.ErrorCode(err)
	if err != nil {
		h.SetError(err.Error())
	}
	return code
}

// CheckResourceAuthorization implements host_check_resource_authorization.
func (h *HostContext) CheckResourceAuthorization(resourceType string, amount uint64) int32 {
	if h.Resources == nil {
		return 5
	}
	if err := h.Resources.CheckResourceAuthorization(h.ScopeID, resourceType, amount); err != nil {
		h.SetError(err.Error())
		return 1
	}
	return 0
}

// RecordResourceUsage implements host_record_resource_usage.
func (h *HostContext) RecordResourceUsage(resourceType string, amount uint64) int32 {
	if h.Resources == nil {
		return 5
	}
	if err := h.Resources.RecordResourceUsage(h.ScopeID, resourceType, amount); err != nil {
		h.SetError(err.Error())
		return 1
	}
	return 0
}

// GetCallerDID implements host_get_caller_did_into_buffer, returning the
// string a module should copy into its own linear memory.
func (h *HostContext) GetCallerDID() string {
	return string(h.CallerDID)
}

// VerifySignature implements host_verify_signature.
func (h *HostContext) VerifySignature(did fedid.DID, data, sig []byte) bool {
	pub, err := h.Resolver.Resolve(did)
	if err != nil {
		h.SetError(err.Error())
		return false
	}
	if len(pub) != ed25519.PublicKeySize {
		h.SetError("invalid public key length")
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// AnchorToDAG implements host_anchor_to_dag by appending c to the host
// context's anchored list, readable through AnchoredCids. It writes nothing
// to the DAG store, and Execute does not anchor the recorded CIDs.
func (h *HostContext) AnchorToDAG(c cid.Cid) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.anchored = append(h.anchored, c)
}

// AnchoredCids returns the CIDs the module asked to have anchored.
func (h *HostContext) AnchoredCids() []cid.Cid {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]cid.Cid, len(h.anchored))
	copy(out, h.anchored)
	return out
}

// SetError records the last host-side error for the module to retrieve with
// GetError (host_get_error).
func (h *HostContext) SetError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errSlot = msg
}

// GetError implements host_get_error.
func (h *HostContext) GetError() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errSlot
}

// ClearError implements host_clear_error.
func (h *HostContext) ClearError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errSlot = ""
}
