package settings

import (
	"testing"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("listen: \":8080\"\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.APIMode != ModeClassic {
		t.Fatalf("expected default api_mode classic, got %q", s.APIMode)
	}
	if s.FetchConcurrency != 8 {
		t.Fatalf("expected default concurrency 8, got %d", s.FetchConcurrency)
	}
	if s.MaxOutstandingFetches != 32 {
		t.Fatalf("expected default max outstanding fetches 32, got %d", s.MaxOutstandingFetches)
	}
}

func TestLoad_MaxOutstandingFetchesOverride(t *testing.T) {
	s, err := Load("listen: \":8080\"\nmax_outstanding_fetches: 4\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.MaxOutstandingFetches != 4 {
		t.Fatalf("expected override 4, got %d", s.MaxOutstandingFetches)
	}
}

func TestLoad_CompilesPatternsAndTri(t *testing.T) {
	yamlDoc := `
listen: ":8080"
include:
  - "^HK"
exclude:
  - "test"
rename:
  - pattern: "^HK"
    replacement: "Hong Kong"
emoji:
  - pattern: "^HK"
    replacement: "🇭🇰"
udp: "true"
tfo: "false"
`
	s, err := Load(yamlDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Include) != 1 || len(s.Exclude) != 1 || len(s.Rename) != 1 || len(s.Emoji) != 1 {
		t.Fatalf("expected all lists populated, got %+v", s)
	}
	if s.UDP != model.TriTrue {
		t.Fatalf("expected udp=true, got %v", s.UDP)
	}
	if s.TFO != model.TriFalse {
		t.Fatalf("expected tfo=false, got %v", s.TFO)
	}
}

func TestLoad_InvalidPatternRejected(t *testing.T) {
	_, err := Load("include:\n  - \"(unclosed\"\n")
	if err == nil {
		t.Fatalf("expected error for unclosed regex")
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	_, err := Load("bogus_field: true\n")
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

const validExternalConfig = `
version: 1
template:
  clash: "http://example.com/clash.tpl"
rule:
  - "DOMAIN-SUFFIX,example.com,PROXY"
  - "MATCH,PROXY"
rename:
  - "^HK@Hong Kong"
emoji:
  - "^HK,🇭🇰"
api_mode: expand
`

func TestParseExternalConfigYAML_FullDocument(t *testing.T) {
	cfg, err := ParseExternalConfigYAML("http://example.com/ext.yaml", validExternalConfig, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("expected profile rules carried through, got %+v", cfg.Rules)
	}
	if len(cfg.Rename) != 1 || cfg.Rename[0].Replacement != "Hong Kong" {
		t.Fatalf("unexpected rename: %+v", cfg.Rename)
	}
	if len(cfg.Emoji) != 1 || cfg.Emoji[0].Emoji != "🇭🇰" {
		t.Fatalf("unexpected emoji: %+v", cfg.Emoji)
	}
	if cfg.APIMode != ModeExpand {
		t.Fatalf("expected api_mode expand, got %q", cfg.APIMode)
	}
}

func TestParseExternalConfigYAML_BadRenameDirective(t *testing.T) {
	doc := `
version: 1
template:
  clash: "http://example.com/clash.tpl"
rule:
  - "MATCH,PROXY"
rename:
  - "no-separator-here"
`
	if _, err := ParseExternalConfigYAML("http://example.com/ext.yaml", doc, ""); err == nil {
		t.Fatalf("expected error for malformed rename directive")
	}
}

func TestResolve_Precedence(t *testing.T) {
	static := &Settings{APIMode: ModeClassic, AddEmoji: false, Sort: false}
	ext := &ExternalConfig{APIMode: ModeExpand}
	ov := Overlay{AddEmoji: model.TriTrue, Target: "clash"}

	snap := Resolve(static, ext, ov)
	if snap.APIMode != ModeExpand {
		t.Fatalf("expected external-config api_mode to win over static, got %q", snap.APIMode)
	}
	if !snap.AddEmoji {
		t.Fatalf("expected request overlay add_emoji=true to win")
	}
	if snap.Target != "clash" {
		t.Fatalf("expected overlay target to win, got %q", snap.Target)
	}
}

func TestResolve_FallsBackToStaticWhenUnset(t *testing.T) {
	static := &Settings{APIMode: ModeStrict, Sort: true}
	snap := Resolve(static, nil, Overlay{})
	if snap.APIMode != ModeStrict {
		t.Fatalf("expected static api_mode preserved, got %q", snap.APIMode)
	}
	if !snap.Sort {
		t.Fatalf("expected static sort=true preserved")
	}
}
