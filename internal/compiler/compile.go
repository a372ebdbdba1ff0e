// Package compiler wires the Subscription Fetcher's output through the
// Transformation Pipeline, the Proxy-Group Resolver and the Ruleset Engine
// for one request, producing the generator-agnostic Result the render
// package turns into a target-specific document (spec.md §4, orchestration
// layer).
package compiler

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/group"
	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/pipeline"
	"github.com/John-Robertt/subconverter-go/internal/profile"
	"github.com/John-Robertt/subconverter-go/internal/ruleset"
)

// Result is everything a render.Render call needs for one target, already
// normalized, deduped, resolved and classified.
type Result struct {
	Proxies  []model.Proxy
	Groups   []model.Group
	Rules    []model.Rule
	Rulesets []model.Ruleset
}

// Options controls the orchestration steps that have a policy choice,
// per spec.md §4.7/§4.5.
type Options struct {
	Pipeline        pipeline.Config
	AllowEmptyGroup bool
	Insert          group.Insert    // wired to fetch.FetchText by the caller for "!!INSERT=" terms
	Rulesets        *ruleset.Engine // nil: ruleset refs are validated but not fetched/expanded

	// FetchBudget, if set, is shared with the subscription fetch path for
	// this same request, capping their combined outstanding fetches per
	// spec.md §5. May be nil.
	FetchBudget ruleset.FetchBudget
}

// CompileError wraps every orchestration-stage failure in the shared
// AppError envelope, per spec.md §7.
type CompileError struct {
	AppError model.AppError
	Cause    error
}

func (e *CompileError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// Compile runs the pipeline over subs, resolves prof's groups and rulesets
// against the surviving nodes, and validates every cross-reference
// (spec.md §4.7/§4.8's REFERENCE_NOT_FOUND / GROUP_UNKNOWN_REFERENCE cases)
// before returning the Result a generator can render.
func Compile(ctx context.Context, subs []model.Proxy, prof *profile.Spec, opt Options) (*Result, error) {
	if prof == nil {
		return nil, &CompileError{AppError: model.AppError{
			Code: "PROFILE_VALIDATE_ERROR", Message: "profile 不能为空", Stage: "compile",
		}}
	}

	nodes := pipeline.Run(subs, opt.Pipeline)
	if len(nodes) == 0 {
		return nil, &CompileError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "没有任何可用节点", Stage: "compile",
		}}
	}

	groupNameSet := make(map[string]struct{}, len(prof.Groups))
	for _, g := range prof.Groups {
		groupNameSet[g.Name] = struct{}{}
	}
	for _, n := range nodes {
		if _, ok := groupNameSet[n.Remark]; ok {
			return nil, &CompileError{AppError: model.AppError{
				Code:    "PROFILE_VALIDATE_ERROR",
				Message: fmt.Sprintf("策略组名与节点名冲突：%s", n.Remark),
				Stage:   "compile",
			}}
		}
	}

	groups, err := buildGroups(prof.Groups, groupNameSet)
	if err != nil {
		return nil, err
	}
	resolved, err := group.Resolve(groups, nodes, group.Options{AllowEmptyGroup: opt.AllowEmptyGroup, Insert: opt.Insert})
	if err != nil {
		return nil, &CompileError{AppError: model.AppError{
			Code: "GROUP_PARSE_ERROR", Message: "策略组解析失败", Stage: "compile",
		}, Cause: err}
	}

	rulesets, err := resolveRulesets(ctx, prof.Ruleset, groupNameSet, opt.Rulesets, opt.FetchBudget)
	if err != nil {
		return nil, err
	}

	rulesOut, err := validateRules(prof.Rules, groupNameSet)
	if err != nil {
		return nil, err
	}

	return &Result{
		Proxies:  nodes,
		Groups:   resolved,
		Rules:    rulesOut,
		Rulesets: rulesets,
	}, nil
}

// buildGroups turns the profile's select/url-test directive shape into the
// resolver's expression-term shape: an explicit member list becomes one
// exact-match regex term per literal node name, unless the literal already
// names another group in this profile (a direct group-to-group reference,
// per spec.md §4.7), and the special "@all" member expands to "every node
// currently known" via a match-all regex term.
func buildGroups(specs []profile.GroupSpec, groupNameSet map[string]struct{}) ([]model.Group, error) {
	out := make([]model.Group, 0, len(specs))
	for _, gs := range specs {
		g := model.Group{Name: gs.Name}
		switch gs.Type {
		case "select":
			g.Type = model.GroupSelect
		case "url-test":
			g.Type = model.GroupURLTest
			g.HealthCheckURL = gs.TestURL
			g.IntervalSec = gs.IntervalSec
			g.ToleranceMS = gs.ToleranceMS
			g.HasTolerance = gs.HasTolerance
		default:
			return nil, &CompileError{AppError: model.AppError{
				Code:    "GROUP_UNSUPPORTED_TYPE",
				Message: fmt.Sprintf("不支持的策略组类型：%s", gs.Type),
				Stage:   "compile",
				Snippet: gs.Raw,
			}}
		}

		switch {
		case gs.Regex != nil:
			g.MembersExpr = []string{"![" + gs.RegexRaw + "]"}
		case len(gs.Members) > 0:
			terms := make([]string, 0, len(gs.Members))
			for _, m := range gs.Members {
				switch {
				case m == "DIRECT" || m == "REJECT":
					terms = append(terms, m)
				case m == "@all":
					terms = append(terms, "![.*]")
				case isExprTerm(m):
					terms = append(terms, m)
				case isLiteralRef(m, groupNameSet):
					terms = append(terms, m)
				default:
					terms = append(terms, "!["+exactPattern(m)+"]")
				}
			}
			g.MembersExpr = terms
		default:
			return nil, &CompileError{AppError: model.AppError{
				Code:    "GROUP_PARSE_ERROR",
				Message: fmt.Sprintf("策略组缺少成员定义：%s", gs.Name),
				Stage:   "compile",
				Snippet: gs.Raw,
			}}
		}
		out = append(out, g)
	}
	return out, nil
}

func isLiteralRef(name string, groupNameSet map[string]struct{}) bool {
	_, ok := groupNameSet[name]
	return ok
}

// isExprTerm reports whether m is already one of the resolver's own
// expression-term shapes ("![...]", "!!GROUP=", "!!GROUPID=", "!!INSERT=")
// rather than a plain member token, so a directive author can drop the
// richer spec.md §4.7 grammar straight into a member list.
func isExprTerm(m string) bool {
	return strings.HasPrefix(m, "![") || strings.HasPrefix(m, "!!GROUP=") ||
		strings.HasPrefix(m, "!!GROUPID=") || strings.HasPrefix(m, "!!INSERT=")
}

func exactPattern(name string) string {
	return "^" + regexp.QuoteMeta(name) + "$"
}

func resolveRulesets(ctx context.Context, specs []profile.RulesetSpec, groupNameSet map[string]struct{}, engine *ruleset.Engine, budget ruleset.FetchBudget) ([]model.Ruleset, error) {
	for _, rs := range specs {
		if err := checkAction(rs.Action, groupNameSet, rs.Raw); err != nil {
			return nil, err
		}
	}
	if engine == nil || len(specs) == 0 {
		return nil, nil
	}

	refs := make([]ruleset.Ref, 0, len(specs))
	for _, rs := range specs {
		refs = append(refs, ruleset.Ref{URL: rs.URL, Behavior: model.RulesetClassical, TargetGroup: rs.Action})
	}
	sets, err := engine.Resolve(ctx, refs, budget)
	if err != nil {
		return nil, &CompileError{AppError: model.AppError{
			Code: "RULESET_FETCH_ERROR", Message: "ruleset 拉取/解析失败", Stage: "compile",
		}, Cause: err}
	}
	return sets, nil
}

func validateRules(rules []model.Rule, groupNameSet map[string]struct{}) ([]model.Rule, error) {
	matchCount, matchIndex := 0, -1
	for i, r := range rules {
		if r.Type == model.RuleMatch {
			matchCount++
			matchIndex = i
		}
		if err := checkAction(r.Action, groupNameSet, ruleSnippet(r)); err != nil {
			return nil, err
		}
	}
	if matchCount != 1 {
		return nil, &CompileError{AppError: model.AppError{
			Code:    "RULE_PARSE_ERROR",
			Message: fmt.Sprintf("兜底规则 MATCH 数量不合法（got=%d, want=1）", matchCount),
			Stage:   "compile",
		}}
	}
	if matchIndex != len(rules)-1 {
		return nil, &CompileError{AppError: model.AppError{
			Code: "RULE_PARSE_ERROR", Message: "兜底规则 MATCH 必须是最后一条", Stage: "compile",
		}}
	}
	return rules, nil
}

func checkAction(action string, groupNameSet map[string]struct{}, snippet string) error {
	if action == "DIRECT" || action == "REJECT" {
		return nil
	}
	if _, ok := groupNameSet[action]; ok {
		return nil
	}
	return &CompileError{AppError: model.AppError{
		Code:    "REFERENCE_NOT_FOUND",
		Message: fmt.Sprintf("规则/ruleset ACTION 引用不存在：%s", action),
		Stage:   "compile",
		Snippet: snippet,
	}}
}

func ruleSnippet(r model.Rule) string {
	if r.Type == model.RuleMatch {
		return fmt.Sprintf("MATCH,%s", r.Action)
	}
	if (r.Type == model.RuleIPCIDR || r.Type == model.RuleIPCIDR6) && r.NoResolve {
		return fmt.Sprintf("%s,%s,%s,no-resolve", r.Type, r.Value, r.Action)
	}
	return fmt.Sprintf("%s,%s,%s", r.Type, r.Value, r.Action)
}

// RemarkSet returns a deterministic, deduped view of every remark present
// in nodes, used by callers that need to cross-check group members against
// the live node list outside of Compile (e.g. a dry-run /sub endpoint).
func RemarkSet(nodes []model.Proxy) []string {
	seen := make(map[string]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := seen[n.Remark]; ok {
			continue
		}
		seen[n.Remark] = struct{}{}
		out = append(out, n.Remark)
	}
	sort.Strings(out)
	return out
}
