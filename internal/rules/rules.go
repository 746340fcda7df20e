// Package rules implements the configurable text-rewriting pipeline applied
// to message content. Rules are evaluated in declaration order and can thread
// captured values between messages of different roles within one request.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"toolbridge/internal/diag"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// RoleCompletion is the pseudo-role targeted by rules that rewrite
// model output on its way back to the client.
const RoleCompletion = "completion"

// Rule is one pattern-based rewrite entry.
//
// A rule with a nil Replace performs capture-only: it records its named
// groups for the current role and leaves the text unchanged. Trigger gates
// execution on a previously captured key. Ref lists roles whose most recent
// captures are substituted into `{key}` placeholders in Pattern and Replace.
type Rule struct {
	Name    string   `yaml:"name" json:"name,omitempty"`
	Role    string   `yaml:"role" json:"role"`
	Trigger string   `yaml:"trigger" json:"trigger,omitempty"`
	Pattern string   `yaml:"pattern" json:"pattern"`
	Replace *string  `yaml:"replace" json:"replace,omitempty"`
	Ref     []string `yaml:"ref" json:"ref,omitempty"`
}

type compiledRule struct {
	rule Rule
	// re is pre-compiled when the pattern carries no placeholders.
	// Placeholder patterns are compiled per application.
	re       *regexp.Regexp
	disabled bool
}

// Set holds the ordered, compiled rule list loaded from configuration.
// It is immutable after Load and shared across requests.
type Set struct {
	rules []compiledRule
}

type yamlSettings struct {
	AdditionalReplacement []Rule `yaml:"additional_replacement"`
}

// legacy JSON shape: role -> {pattern: replacement}
type jsonSettings struct {
	AdditionalReplacement map[string]map[string]string `json:"additional_replacement"`
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Load reads the rule file at path. YAML is tried first; the legacy JSON
// shape (role -> pattern -> replacement) is accepted as a fallback.
// An empty path yields an empty set.
func Load(path string) (*Set, error) {
	if path == "" {
		return NewSet(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var ys yamlSettings
	if err := yaml.Unmarshal(data, &ys); err == nil && ys.AdditionalReplacement != nil {
		return NewSet(ys.AdditionalReplacement), nil
	}

	var js jsonSettings
	if err := json.Unmarshal(data, &js); err == nil && js.AdditionalReplacement != nil {
		var rules []Rule
		for role, pairs := range js.AdditionalReplacement {
			for pattern, replace := range pairs {
				r := replace
				rules = append(rules, Rule{Role: role, Pattern: pattern, Replace: &r})
			}
		}
		return NewSet(rules), nil
	}

	return nil, fmt.Errorf("rules file %s is neither valid YAML nor legacy JSON", path)
}

// NewSet compiles the given rules in order. A rule whose pattern fails to
// compile is disabled with a warning; the rest of the set still applies.
func NewSet(rules []Rule) *Set {
	s := &Set{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr := compiledRule{rule: r}
		if !placeholderRe.MatchString(r.Pattern) {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"rule": ruleLabel(r),
					"role": r.Role,
				}).Warnf("Invalid replacement pattern, rule disabled: %v", err)
				cr.disabled = true
			} else {
				cr.re = re
			}
		}
		s.rules = append(s.rules, cr)
	}
	return s
}

// Len returns the number of rules, including disabled ones.
func (s *Set) Len() int {
	return len(s.rules)
}

// HasRole reports whether any enabled rule targets the given role.
func (s *Set) HasRole(role string) bool {
	for i := range s.rules {
		if !s.rules[i].disabled && s.rules[i].rule.Role == role {
			return true
		}
	}
	return false
}

// NewPass creates a request-scoped application pass with an empty
// capture context. Passes must not be shared across requests. A nil sink
// defaults to logging.
func (s *Set) NewPass(sink diag.Sink) *Pass {
	if sink == nil {
		sink = diag.LogSink{}
	}
	return &Pass{
		set:      s,
		sink:     sink,
		captured: make(map[string]map[string]string),
	}
}

// Pass applies a rule set to one request's messages, threading captures.
// Captured values live only for the lifetime of the pass.
type Pass struct {
	set  *Set
	sink diag.Sink
	// captured maps role -> capture name -> most recent value.
	captured map[string]map[string]string
	// disabled tracks rules whose placeholder-expanded pattern failed to
	// compile during this pass.
	disabled map[int]bool
}

// BeginMessage clears captures previously recorded for the role, so each
// message of a role starts a fresh capture slot.
func (p *Pass) BeginMessage(role string) {
	delete(p.captured, role)
}

// ApplyMessage rewrites the content of one conversation message,
// resetting the role's capture slot first.
func (p *Pass) ApplyMessage(role, content string) string {
	p.BeginMessage(role)
	return p.apply(role, content)
}

// Apply rewrites one content fragment without resetting captures. Used for
// the trailing parts of a multi-part message.
func (p *Pass) Apply(role, content string) string {
	return p.apply(role, content)
}

// ApplyCompletion rewrites model output using rules targeting the
// completion role. Unlike ApplyMessage it does not clear captures, so it
// may be invoked repeatedly over streamed segments.
func (p *Pass) ApplyCompletion(content string) string {
	return p.apply(RoleCompletion, content)
}

func (p *Pass) apply(role, text string) string {
	for i := range p.set.rules {
		cr := &p.set.rules[i]
		if cr.disabled || p.disabled[i] {
			continue
		}
		r := cr.rule

		if r.Trigger != "" && !p.triggerSatisfied(r.Trigger) {
			continue
		}
		if r.Role != role {
			continue
		}

		re := cr.re
		pattern := r.Pattern
		var replace string
		hasReplace := r.Replace != nil
		if hasReplace {
			replace = *r.Replace
		}

		if len(r.Ref) > 0 {
			refs := p.refValues(r.Ref)
			pattern = expandPlaceholders(pattern, refs, true)
			if hasReplace {
				replace = expandPlaceholders(replace, refs, false)
			}
			re = nil
		}

		if re == nil {
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				p.sink.Event(diag.EventRuleDisabled,
					fmt.Sprintf("rule %s disabled for this request, pattern failed to compile after placeholder expansion: %v", ruleLabel(r), err))
				if p.disabled == nil {
					p.disabled = make(map[int]bool)
				}
				p.disabled[i] = true
				continue
			}
			re = compiled
		}

		if hasReplace {
			text = re.ReplaceAllString(text, replace)
			continue
		}

		// Capture-only rule: record named groups for the current role.
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		target := p.captured[r.Role]
		if target == nil {
			target = make(map[string]string)
			p.captured[r.Role] = target
		}
		for gi, name := range re.SubexpNames() {
			if name != "" && gi < len(m) && m[gi] != "" {
				target[name] = m[gi]
			}
		}
	}
	return text
}

// triggerSatisfied checks the named capture across all roles.
func (p *Pass) triggerSatisfied(name string) bool {
	for _, values := range p.captured {
		if v, ok := values[name]; ok && v != "" {
			return true
		}
	}
	return false
}

func (p *Pass) refValues(roles []string) map[string]string {
	out := make(map[string]string)
	for _, role := range roles {
		for k, v := range p.captured[role] {
			out[k] = v
		}
	}
	return out
}

// expandPlaceholders substitutes {key} tokens. Values interpolated into a
// pattern are regex-quoted so captured text matches literally; values in a
// replacement are inserted raw. Unknown keys degrade to the empty string.
func expandPlaceholders(s string, values map[string]string, quote bool) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
		key := tok[1 : len(tok)-1]
		v := values[key]
		if quote {
			return regexp.QuoteMeta(v)
		}
		return v
	})
}

func ruleLabel(r Rule) string {
	if r.Name != "" {
		return r.Name
	}
	if len(r.Pattern) > 40 {
		return strings.TrimSpace(r.Pattern[:40]) + "..."
	}
	return r.Pattern
}
