// Package tagging is the rule-based fallback for document tags. It runs when
// the AI provider cannot, so tags are never left empty.
package tagging

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Rule struct {
	Tag      string   `yaml:"tag"`
	Keywords []string `yaml:"keywords"`
}

type RuleTagger struct {
	rules []Rule
}

// DefaultRules covers the common vault categories; a deployment can replace
// them with a YAML rule file.
func DefaultRules() []Rule {
	return []Rule{
		{Tag: "invoice", Keywords: []string{"invoice", "amount due", "payment terms", "vat"}},
		{Tag: "contract", Keywords: []string{"agreement", "contract", "party", "hereinafter"}},
		{Tag: "report", Keywords: []string{"report", "summary", "findings", "quarterly"}},
		{Tag: "finance", Keywords: []string{"total", "balance", "account", "eur", "usd"}},
		{Tag: "correspondence", Keywords: []string{"dear", "regards", "sincerely"}},
	}
}

func NewRuleTagger(rules []Rule) *RuleTagger {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleTagger{rules: rules}
}

// LoadRules reads a YAML rule file: a list of {tag, keywords} entries.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag rules: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse tag rules: %w", err)
	}
	return rules, nil
}

// Tags matches rule keywords against the lowercased text. It always returns
// at least one tag ("document") so downstream consumers can rely on presence.
func (t *RuleTagger) Tags(text string) []string {
	lower := strings.ToLower(text)

	seen := make(map[string]struct{})
	var out []string
	for _, rule := range t.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				if _, dup := seen[rule.Tag]; !dup {
					seen[rule.Tag] = struct{}{}
					out = append(out, rule.Tag)
				}
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{"document"}
	}
	sort.Strings(out)
	return out
}
