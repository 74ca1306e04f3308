// Package sla holds partner SLA rules and the deadline monitor that turns
// them into cancellable per-shipment timers.
package sla

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/venkata-adulla/edi-control-tower/internal/correlate"
)

// Duration wraps time.Duration so rules can be written as "60m" in both
// YAML files and JSON API bodies.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses "90s", "60m", "2h30m" style values.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"60m\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Rule bounds one milestone interval for one partner. Static configuration,
// read-only to the engine.
type Rule struct {
	PartnerID   string          `yaml:"partner_id" json:"partner_id"`
	From        correlate.State `yaml:"from" json:"from"`
	To          correlate.State `yaml:"to" json:"to"`
	MaxDuration Duration        `yaml:"max_duration" json:"max_duration"`
}

// Validate checks a rule is well-formed.
func (r Rule) Validate() error {
	if r.PartnerID == "" {
		return fmt.Errorf("sla rule: partner_id is required")
	}
	if r.From == "" || r.To == "" {
		return fmt.Errorf("sla rule for %s: from and to are required", r.PartnerID)
	}
	if r.MaxDuration <= 0 {
		return fmt.Errorf("sla rule %s %s->%s: max_duration must be positive", r.PartnerID, r.From, r.To)
	}
	return nil
}

type ruleKey struct {
	partner string
	from    correlate.State
	to      correlate.State
}

// Rules is the active rule set. Loading replaces/merges by (partner, from,
// to); changes apply to future intervals only, never to armed timers.
type Rules struct {
	mu    sync.RWMutex
	byKey map[ruleKey]Rule
}

// NewRules returns an empty rule set.
func NewRules() *Rules {
	return &Rules{byKey: make(map[ruleKey]Rule)}
}

// Load merges rules into the active set, replacing existing entries for the
// same (partner, from, to).
func (r *Rules) Load(rules []Rule) error {
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		r.byKey[ruleKey{rule.PartnerID, rule.From, rule.To}] = rule
	}
	return nil
}

// Lookup returns the rule for a partner/interval pair. A missing rule means
// no timer is armed; it is not an error.
func (r *Rules) Lookup(partnerID string, from, to correlate.State) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byKey[ruleKey{partnerID, from, to}]
	return rule, ok
}

// Len reports the number of active rules.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// RulesFile is the on-disk shape of -sla-rules-file and the body of the
// rules replacement endpoint.
type RulesFile struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// LoadFile reads a YAML rules file. Returns nil (not an error) if the path
// is empty.
func LoadFile(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	for _, rule := range f.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return f.Rules, nil
}
