package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/John-Robertt/subconverter-go/internal/group"
	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/pipeline"
	"github.com/John-Robertt/subconverter-go/internal/profile"
	"github.com/John-Robertt/subconverter-go/internal/ruleset"
)

func ssNode(remark, host string, port int) model.Proxy {
	return model.Proxy{Kind: model.KindShadowsocks, Remark: remark, Host: host, Port: port,
		SS: &model.ShadowsocksFields{Cipher: "aes-128-gcm", Password: "pass"}}
}

func TestCompile_PipelineGroupsRulesWired(t *testing.T) {
	subs := []model.Proxy{
		ssNode("HK-1", "hk.example.com", 8388),
		ssNode("SG-1", "sg.example.com", 8388),
	}

	prof := &profile.Spec{
		Groups: []profile.GroupSpec{
			{Name: "PROXY", Type: "select", Members: []string{"@all", "DIRECT"}},
		},
		Rules: []model.Rule{
			{Type: model.RuleDomainSuffix, Value: "example.com", Action: "PROXY"},
			{Type: model.RuleMatch, Action: "PROXY"},
		},
	}

	got, err := Compile(context.Background(), subs, prof, Options{Pipeline: pipeline.Config{Dedup: true, Sort: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Proxies) != 2 {
		t.Fatalf("expected 2 proxies, got %d", len(got.Proxies))
	}
	if len(got.Groups) != 1 || len(got.Groups[0].ResolvedMembers) != 3 {
		t.Fatalf("expected PROXY group with 3 members (2 nodes + DIRECT), got %+v", got.Groups)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(got.Rules))
	}
}

func TestCompile_EmptyAfterPipelineIsError(t *testing.T) {
	prof := &profile.Spec{Rules: []model.Rule{{Type: model.RuleMatch, Action: "DIRECT"}}}
	_, err := Compile(context.Background(), nil, prof, Options{})
	var ce *CompileError
	if !errors.As(err, &ce) || ce.AppError.Code != "SUB_PARSE_ERROR" {
		t.Fatalf("expected SUB_PARSE_ERROR, got %v", err)
	}
}

func TestCompile_UnknownRuleActionIsReferenceNotFound(t *testing.T) {
	subs := []model.Proxy{ssNode("HK-1", "hk.example.com", 8388)}
	prof := &profile.Spec{
		Rules: []model.Rule{
			{Type: model.RuleDomain, Value: "a.com", Action: "NOPE"},
			{Type: model.RuleMatch, Action: "DIRECT"},
		},
	}
	_, err := Compile(context.Background(), subs, prof, Options{})
	var ce *CompileError
	if !errors.As(err, &ce) || ce.AppError.Code != "REFERENCE_NOT_FOUND" {
		t.Fatalf("expected REFERENCE_NOT_FOUND, got %v", err)
	}
}

func TestCompile_MissingMatchRuleIsRejected(t *testing.T) {
	subs := []model.Proxy{ssNode("HK-1", "hk.example.com", 8388)}
	prof := &profile.Spec{Rules: []model.Rule{{Type: model.RuleDomain, Value: "a.com", Action: "DIRECT"}}}
	_, err := Compile(context.Background(), subs, prof, Options{})
	var ce *CompileError
	if !errors.As(err, &ce) || ce.AppError.Code != "RULE_PARSE_ERROR" {
		t.Fatalf("expected RULE_PARSE_ERROR, got %v", err)
	}
}

func TestCompile_GroupProxyNameCollisionIsRejected(t *testing.T) {
	subs := []model.Proxy{ssNode("PROXY", "hk.example.com", 8388)}
	prof := &profile.Spec{
		Groups: []profile.GroupSpec{{Name: "PROXY", Type: "select", Members: []string{"DIRECT"}}},
		Rules:  []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}
	_, err := Compile(context.Background(), subs, prof, Options{})
	var ce *CompileError
	if !errors.As(err, &ce) || ce.AppError.Code != "PROFILE_VALIDATE_ERROR" {
		t.Fatalf("expected PROFILE_VALIDATE_ERROR, got %v", err)
	}
}

func TestCompile_RulesetEngineExpandsAndBindsTargetGroup(t *testing.T) {
	subs := []model.Proxy{ssNode("HK-1", "hk.example.com", 8388)}
	fetcher := func(ctx context.Context, url string) (string, error) {
		return "DOMAIN-SUFFIX,google.com\n", nil
	}
	engine := ruleset.New(fetcher, 0)

	prof := &profile.Spec{
		Groups:  []profile.GroupSpec{{Name: "PROXY", Type: "select", Members: []string{"@all"}}},
		Ruleset: []profile.RulesetSpec{{Raw: "PROXY,http://rs", Action: "PROXY", URL: "http://rs"}},
		Rules:   []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}

	got, err := Compile(context.Background(), subs, prof, Options{Rulesets: engine})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Rulesets) != 1 || len(got.Rulesets[0].Lines) != 1 {
		t.Fatalf("expected one expanded ruleset line, got %+v", got.Rulesets)
	}
	if got.Rulesets[0].TargetGroup != "PROXY" {
		t.Fatalf("expected target group PROXY, got %q", got.Rulesets[0].TargetGroup)
	}
}

func TestCompile_InsertDirectiveWired(t *testing.T) {
	subs := []model.Proxy{ssNode("HK-1", "hk.example.com", 8388)}
	insert := func(ref string) ([]string, error) { return []string{"HK-1"}, nil }
	prof := &profile.Spec{
		Groups: []profile.GroupSpec{{Name: "PROXY", Type: "select", Members: []string{"!!INSERT=http://x"}}},
		Rules:  []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}
	got, err := Compile(context.Background(), subs, prof, Options{Insert: group.Insert(insert)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Groups[0].ResolvedMembers) != 1 || got.Groups[0].ResolvedMembers[0] != "HK-1" {
		t.Fatalf("expected resolved INSERT member, got %+v", got.Groups[0].ResolvedMembers)
	}
}
