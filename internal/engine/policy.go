package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// PolicyPack holds the governance rules the policy engine enforces.
type PolicyPack struct {
	// MaxAutoReplicas is the largest replica count a scale request may
	// reach without operator approval.
	MaxAutoReplicas int `yaml:"maxAutoReplicas"`
}

// DefaultPolicyPack returns the built-in governance rules.
func DefaultPolicyPack() PolicyPack {
	return PolicyPack{MaxAutoReplicas: 10}
}

// LoadPolicyPack reads a governance pack from a YAML file. An empty path or
// a missing file yields the defaults; a malformed file is an error.
func LoadPolicyPack(path string) (PolicyPack, error) {
	pack := DefaultPolicyPack()
	if path == "" {
		return pack, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pack, nil
		}
		return pack, fmt.Errorf("read policy pack: %w", err)
	}
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return DefaultPolicyPack(), fmt.Errorf("parse policy pack: %w", err)
	}
	if pack.MaxAutoReplicas <= 0 {
		pack.MaxAutoReplicas = DefaultPolicyPack().MaxAutoReplicas
	}
	return pack, nil
}

// PolicyEngine validates proposed actions against the governance pack. The
// pack is swappable at runtime for hot reload; validation itself is pure.
type PolicyEngine struct {
	mu   sync.RWMutex
	pack PolicyPack
}

// NewPolicyEngine creates an engine enforcing the given pack.
func NewPolicyEngine(pack PolicyPack) *PolicyEngine {
	if pack.MaxAutoReplicas <= 0 {
		pack = DefaultPolicyPack()
	}
	return &PolicyEngine{pack: pack}
}

// SetPack replaces the governance rules.
func (p *PolicyEngine) SetPack(pack PolicyPack) {
	if pack.MaxAutoReplicas <= 0 {
		return
	}
	p.mu.Lock()
	p.pack = pack
	p.mu.Unlock()
}

// Pack returns the rules currently in force.
func (p *PolicyEngine) Pack() PolicyPack {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pack
}

// ValidateScale checks a proposed replica count, short-circuiting at the
// first violated rule. Counts above the auto-approval cap are deferred for
// operator sign-off rather than denied.
func (p *PolicyEngine) ValidateScale(replicas float64) models.Verdict {
	if math.IsNaN(replicas) || math.IsInf(replicas, 0) {
		return models.Deny{Reason: "replica count must be finite"}
	}
	if replicas != math.Trunc(replicas) {
		return models.Deny{Reason: "replica count must be a whole number"}
	}
	if replicas < 0 {
		return models.Deny{Reason: "replica count cannot be negative"}
	}
	if replicas == 0 {
		return models.Deny{Reason: "cannot scale to zero replicas"}
	}
	if replicas > float64(p.Pack().MaxAutoReplicas) {
		return models.Defer{Reason: "requires manual approval"}
	}
	return models.Admit{}
}

// ValidateRollback always admits; rollbacks are bounded by the baseline.
// The executor still records the verdict for the audit trail.
func (p *PolicyEngine) ValidateRollback() models.Verdict {
	return models.Admit{}
}
