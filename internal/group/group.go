// Package group implements the Proxy-Group Resolver (spec.md §4.7): it
// expands a Group's rule-expression members into a concrete ordered list of
// node remarks present in the current node list.
package group

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

// GroupError is always fatal to the request, per spec.md §7.
type GroupError struct {
	AppError model.AppError
	Cause    error
}

func (e *GroupError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *GroupError) Unwrap() error { return e.Cause }

// Insert fetches additional members at resolve time for a "!!INSERT=" term.
// The main pipeline never calls this; only the resolver does, per
// spec.md §4.7.
type Insert func(ref string) ([]string, error)

// Options controls resolution policy.
type Options struct {
	AllowEmptyGroup bool // if empty after expansion: true => insert DIRECT, false => GroupError
	Insert          Insert
}

// Resolve expands every group's MembersExpr against the node list and
// fills ResolvedMembers, returning a new slice (groups are not mutated in
// place). Groups may reference any other group by literal name, earlier or
// later in the list; a reference is expanded from the referenced group's
// own MembersExpr, recursively through further references, and a cycle is
// rejected with GROUP_CIRCULAR_REFERENCE.
func Resolve(groups []model.Group, nodes []model.Proxy, opt Options) ([]model.Group, error) {
	byName := make(map[string]*model.Group, len(groups))
	out := make([]model.Group, len(groups))
	copy(out, groups)
	for i := range out {
		byName[out[i].Name] = &out[i]
	}

	tagIndex := buildGroupTagIndex(nodes)

	for i := range out {
		members, err := resolveExpr(out[i].MembersExpr, nodes, tagIndex, byName, opt, map[string]bool{})
		if err != nil {
			return nil, err
		}
		members = dedupPreserveOrder(members)
		if len(members) == 0 {
			if !opt.AllowEmptyGroup {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_EMPTY_AFTER_EXPANSION",
					Message: fmt.Sprintf("group %q resolved to no members", out[i].Name),
					Stage:   "group_resolve",
				}}
			}
			members = []string{"DIRECT"}
		}
		out[i].ResolvedMembers = members
	}
	return out, nil
}

func resolveExpr(expr []string, nodes []model.Proxy, tagIndex map[string][]string, byName map[string]*model.Group, opt Options, visiting map[string]bool) ([]string, error) {
	var out []string
	for _, term := range expr {
		term = strings.TrimSpace(term)
		switch {
		case term == "":
			continue
		case term == "DIRECT" || term == "REJECT":
			out = append(out, term)
		case strings.HasPrefix(term, "![") && strings.HasSuffix(term, "]"):
			pattern := term[2 : len(term)-1]
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_PARSE_ERROR",
					Message: fmt.Sprintf("invalid member regex: %q", pattern),
					Stage:   "group_resolve",
					Snippet: term,
				}, Cause: err}
			}
			for _, n := range nodes {
				if re.MatchString(n.Remark) {
					out = append(out, n.Remark)
				}
			}
		case strings.HasPrefix(term, "!!GROUP="):
			tag := strings.TrimPrefix(term, "!!GROUP=")
			out = append(out, tagIndex[tag]...)
		case strings.HasPrefix(term, "!!GROUPID="):
			idxStr := strings.TrimPrefix(term, "!!GROUPID=")
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_PARSE_ERROR",
					Message: fmt.Sprintf("invalid !!GROUPID= index: %q", idxStr),
					Stage:   "group_resolve",
					Snippet: term,
				}, Cause: err}
			}
			tags := orderedSourceTags(nodes)
			if idx < 0 || idx >= len(tags) {
				continue
			}
			out = append(out, tagIndex[tags[idx]]...)
		case strings.HasPrefix(term, "!!INSERT="):
			ref := strings.TrimPrefix(term, "!!INSERT=")
			if opt.Insert == nil {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_PARSE_ERROR",
					Message: "!!INSERT= requires an Insert resolver",
					Stage:   "group_resolve",
					Snippet: term,
				}}
			}
			inserted, err := opt.Insert(ref)
			if err != nil {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_PARSE_ERROR",
					Message: fmt.Sprintf("!!INSERT= fetch failed: %s", ref),
					Stage:   "group_resolve",
					Snippet: term,
				}, Cause: err}
			}
			out = append(out, inserted...)
		default:
			// Literal reference to another proxy group.
			g, ok := byName[term]
			if !ok {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_UNKNOWN_REFERENCE",
					Message: fmt.Sprintf("unknown group reference: %q", term),
					Stage:   "group_resolve",
					Snippet: term,
				}}
			}
			if visiting[term] {
				return nil, &GroupError{AppError: model.AppError{
					Code:    "GROUP_CIRCULAR_REFERENCE",
					Message: fmt.Sprintf("circular group reference: %q", term),
					Stage:   "group_resolve",
					Snippet: term,
				}}
			}
			visiting[term] = true
			sub, err := resolveExpr(g.MembersExpr, nodes, tagIndex, byName, opt, visiting)
			visiting[term] = false
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func buildGroupTagIndex(nodes []model.Proxy) map[string][]string {
	idx := make(map[string][]string)
	for _, n := range nodes {
		idx[n.Group] = append(idx[n.Group], n.Remark)
	}
	return idx
}

// orderedSourceTags returns source-tags in first-seen order, for
// !!GROUPID= numeric indexing.
func orderedSourceTags(nodes []model.Proxy) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range nodes {
		if !seen[n.Group] {
			seen[n.Group] = true
			out = append(out, n.Group)
		}
	}
	return out
}

func dedupPreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
