package tagging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTagsMatchKeywords(t *testing.T) {
	tagger := NewRuleTagger(nil)

	tags := tagger.Tags("INVOICE #42\nAmount due: 100 EUR\nPayment terms: 30 days")
	if len(tags) == 0 {
		t.Fatalf("expected tags")
	}
	found := map[string]bool{}
	for _, tag := range tags {
		found[tag] = true
	}
	if !found["invoice"] || !found["finance"] {
		t.Fatalf("expected invoice and finance tags, got %v", tags)
	}
}

func TestTagsNeverEmpty(t *testing.T) {
	tagger := NewRuleTagger(nil)

	tags := tagger.Tags("zzz qqq xxx")
	if len(tags) != 1 || tags[0] != "document" {
		t.Fatalf("expected default tag, got %v", tags)
	}
}

func TestLoadRulesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "- tag: medical\n  keywords: [diagnosis, prescription]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(rules) != 1 || rules[0].Tag != "medical" {
		t.Fatalf("unexpected rules: %+v", rules)
	}

	tagger := NewRuleTagger(rules)
	tags := tagger.Tags("Diagnosis: all good")
	if len(tags) != 1 || tags[0] != "medical" {
		t.Fatalf("expected medical tag, got %v", tags)
	}
}
