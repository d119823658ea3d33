package sparql

import (
	"fmt"
	"strings"
	"sync"
)

// Distribution constrains where a skill may run.
type Distribution int

const (
	// DistributionAll places no constraint on the run mode.
	DistributionAll Distribution = iota
	// DistributionConsumer hands the bound query text to the caller.
	DistributionConsumer
	// DistributionProvider executes the skill at the hosting side.
	DistributionProvider
)

func (d Distribution) String() string {
	switch d {
	case DistributionConsumer:
		return "consumer"
	case DistributionProvider:
		return "provider"
	default:
		return "all"
	}
}

// ParseDistribution reads a distribution or run-mode value. The empty
// string means unconstrained.
func ParseDistribution(raw string) (Distribution, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return DistributionAll, nil
	case "consumer":
		return DistributionConsumer, nil
	case "provider":
		return DistributionProvider, nil
	default:
		return DistributionAll, fmt.Errorf("%w: unknown run mode %q", ErrBadRequest, raw)
	}
}

// Combine resolves the effective run mode of a skill from its
// configured distribution and the caller's requested mode. An
// unconstrained side yields to the other; a consumer/provider conflict
// is a client error.
func Combine(asset, requested Distribution) (Distribution, error) {
	switch {
	case asset == DistributionAll:
		return requested, nil
	case requested == DistributionAll:
		return asset, nil
	case asset == requested:
		return asset, nil
	default:
		return DistributionAll, fmt.Errorf("%w: skill is distributed as %s but was requested as %s", ErrBadRequest, asset, requested)
	}
}

// Skill is a stored parameterized query with its distribution
// constraint.
type Skill struct {
	Text         string
	Distribution Distribution
}

// SkillStore keeps skills in memory, keyed by asset id.
type SkillStore struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewSkillStore creates an empty skill store.
func NewSkillStore() *SkillStore {
	return &SkillStore{skills: make(map[string]Skill)}
}

// Put stores or replaces a skill and reports whether an entry already
// existed.
func (s *SkillStore) Put(asset string, skill Skill) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.skills[asset]
	s.skills[asset] = skill
	return existed
}

// Get returns the stored skill for an asset.
func (s *SkillStore) Get(asset string) (Skill, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skill, ok := s.skills[asset]
	return skill, ok
}

// Delete removes a skill and reports whether it existed.
func (s *SkillStore) Delete(asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.skills[asset]
	delete(s.skills, asset)
	return existed
}
