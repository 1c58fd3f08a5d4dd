// Package authz implements per-scope authorization policy: the rule set a
// cooperative or federation scope publishes for which DIDs may perform
// which actions, and the evaluation used by the DAG, execution, and
// scheduler components before any state-changing write. Modeled on
// original_source's icn-types::policy, expanded with the membership lookup
// the distilled spec assumes but does not define.
package authz

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/coopfed/fednet/internal/fedid"
)

// ErrActionNotPermitted means the scope's policy has no rule allowing action.
var ErrActionNotPermitted = errors.New("authz: action not permitted by scope policy")

// ErrUnauthorizedScopeAccess means the caller named a scope they have no
// rule granting access to.
var ErrUnauthorizedScopeAccess = errors.New("authz: caller has no access to scope")

// ErrDidNotInAllowlist means the rule matched but the caller's DID is not on
// its explicit allowlist.
var ErrDidNotInAllowlist = errors.New("authz: did not in rule allowlist")

// ErrPolicyNotFound means no policy is registered for the named scope.
var ErrPolicyNotFound = errors.New("authz: no policy for scope")

// Rule grants a single action to members of a membership class, optionally
// narrowed to an explicit allowlist of DIDs.
type Rule struct {
	Action              string      `yaml:"action" json:"action"`
	RequiredMembership  string      `yaml:"required_membership,omitempty" json:"required_membership,omitempty"`
	AllowedDIDs         []fedid.DID `yaml:"allowed_dids,omitempty" json:"allowed_dids,omitempty"`
}

// ScopeConfig is the policy document a scope (a cooperative or federation)
// publishes: which actions which members may take.
type ScopeConfig struct {
	ScopeType string `yaml:"scope_type" json:"scope_type"`
	ScopeID   string `yaml:"scope_id" json:"scope_id"`
	Rules     []Rule `yaml:"allowed_actions" json:"allowed_actions"`
}

// LoadScopeConfig parses a ScopeConfig from YAML bytes, the format the
// scope's PolicyUpdateProposal payload carries.
func LoadScopeConfig(data []byte) (ScopeConfig, error) {
	var cfg ScopeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ScopeConfig{}, fmt.Errorf("authz: parse scope policy: %w", err)
	}
	return cfg, nil
}

// MembershipIndex reports whether a DID holds a named membership class
// within a scope (e.g. "member", "validator"). The core does not define how
// membership is tracked; callers provide an implementation.
type MembershipIndex interface {
	HasMembership(scopeID string, did fedid.DID, class string) bool
}

// StaticMembership is a MembershipIndex backed by an in-memory map, for
// tests and small federations.
type StaticMembership map[string]map[fedid.DID][]string

func (m StaticMembership) HasMembership(scopeID string, did fedid.DID, class string) bool {
	classes, ok := m[scopeID][did]
	if !ok {
		return false
	}
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

// Registry holds the active ScopeConfig for every known scope, keyed by
// scope id, plus the membership index rules are checked against.
type Registry struct {
	policies   map[string]ScopeConfig
	membership MembershipIndex
}

// NewRegistry constructs a Registry over the given membership index.
func NewRegistry(membership MembershipIndex) *Registry {
	return &Registry{policies: make(map[string]ScopeConfig), membership: membership}
}

// SetPolicy registers or replaces the policy for a scope, as applied by an
// approved PolicyUpdateApproval event.
func (r *Registry) SetPolicy(cfg ScopeConfig) {
	r.policies[cfg.ScopeID] = cfg
}

// Policy returns the currently active policy for a scope.
func (r *Registry) Policy(scopeID string) (ScopeConfig, bool) {
	cfg, ok := r.policies[scopeID]
	return cfg, ok
}

// Authorize checks whether did may perform action within scopeID. It
// returns one of the package's sentinel errors on denial, nil on success.
func (r *Registry) Authorize(scopeID string, did fedid.DID, action string) error {
	cfg, ok := r.policies[scopeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, scopeID)
	}

	var matched *Rule
	for i := range cfg.Rules {
		if cfg.Rules[i].Action == action {
			matched = &cfg.Rules[i]
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("%w: %s on %s", ErrActionNotPermitted, action, scopeID)
	}

	if len(matched.AllowedDIDs) > 0 {
		for _, d := range matched.AllowedDIDs {
			if d == did {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrDidNotInAllowlist, did)
	}

	if matched.RequiredMembership != "" {
		if r.membership == nil || !r.membership.HasMembership(scopeID, did, matched.RequiredMembership) {
			return fmt.Errorf("%w: %s lacks %s in %s", ErrUnauthorizedScopeAccess, did, matched.RequiredMembership, scopeID)
		}
	}

	return nil
}

// AuthorizeScoped is Authorize plus a scope-type discrimination check, for
// callers (the host ABI) that accept scope_type alongside scope_id and must
// reject a mismatch before even consulting the scope's rules. An empty
// scopeType skips the check.
func (r *Registry) AuthorizeScoped(scopeType, scopeID string, did fedid.DID, action string) error {
	if scopeType != "" {
		cfg, ok := r.policies[scopeID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPolicyNotFound, scopeID)
		}
		if cfg.ScopeType != "" && cfg.ScopeType != scopeType {
			return fmt.Errorf("%w: scope %s is type %s, not %s", ErrUnauthorizedScopeAccess, scopeID, cfg.ScopeType, scopeType)
		}
	}
	return r.Authorize(scopeID, did, action)
}

// ErrorCode maps an Authorize error to the host ABI's numeric error code
// table: 0 ok, 1 ActionNotPermitted, 2 UnauthorizedScopeAccess,
// 3 DidNotInAllowlist, 4 PolicyNotFound, 5 internal/other.
func ErrorCode(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrActionNotPermitted):
		return 1
	case errors.Is(err, ErrUnauthorizedScopeAccess):
		return 2
	case errors.Is(err, ErrDidNotInAllowlist):
		return 3
	case errors.Is(err, ErrPolicyNotFound):
		return 4
	default:
		return 5
	}
}
