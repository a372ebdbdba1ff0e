// Package pipeline implements the transformation pipeline (spec.md §4.4):
// preprocess, include/exclude filter, emoji handling, rename, dedup, sort,
// append-type, run in that exact order over a flat node list. Every step is
// a pure function of (node list, frozen config) — no step reads mutable
// state, matching spec.md §9's "pipeline as a pure function" design note.
package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

// RenameRule is one regex rename step, applied in list order. There is no
// script form.
type RenameRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Config is the frozen settings snapshot the pipeline steps read. It is
// built once per request and never mutated by a step.
type Config struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp

	RemoveEmoji bool
	AddEmoji    bool
	EmojiRules  []model.EmojiRule

	Rename []RenameRule

	Dedup      bool // enables step 6; the zero value skips it (httpapi always sets true)
	Sort       bool
	SortKey    func(model.Proxy) string // optional custom sort key; defaults to Remark
	AppendType bool
}

// Run executes the eight pipeline steps in spec.md §4.4's exact order and
// returns the frozen output list. The input slice is never mutated.
func Run(in []model.Proxy, cfg Config) []model.Proxy {
	out := make([]model.Proxy, len(in))
	copy(out, in)

	out = preprocess(out)
	out = includeFilter(out, cfg.Include)
	out = excludeFilter(out, cfg.Exclude)
	out = emojiHandling(out, cfg)
	out = rename(out, cfg.Rename)
	if cfg.Dedup {
		out = dedup(out)
	}
	if cfg.Sort {
		out = sortProxies(out, cfg.SortKey)
	}
	if cfg.AppendType {
		out = appendType(out)
	}
	return out
}

// preprocess strips unprintable characters from remarks and normalizes
// line endings/whitespace, per spec.md §4.4 step 1.
func preprocess(in []model.Proxy) []model.Proxy {
	for i := range in {
		in[i].Remark = normalizeRemark(in[i].Remark)
	}
	return in
}

func normalizeRemark(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if !unicode.IsPrint(r) {
			continue
		}
		if r == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// includeFilter keeps a node iff its remark matches at least one include
// pattern, or no include pattern is configured (spec.md §4.4 step 2).
func includeFilter(in []model.Proxy, patterns []*regexp.Regexp) []model.Proxy {
	if len(patterns) == 0 {
		return in
	}
	out := in[:0]
	for _, p := range in {
		for _, re := range patterns {
			if re.MatchString(p.Remark) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// excludeFilter drops a node iff its remark matches any exclude pattern
// (spec.md §4.4 step 3).
func excludeFilter(in []model.Proxy, patterns []*regexp.Regexp) []model.Proxy {
	if len(patterns) == 0 {
		return in
	}
	out := in[:0]
	for _, p := range in {
		excluded := false
		for _, re := range patterns {
			if re.MatchString(p.Remark) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, p)
		}
	}
	return out
}

// emojiRegexLeadingGlyph matches a leading emoji-ish glyph plus the
// separator after it, used by remove_emoji to strip what add_emoji would
// have prepended.
var emojiRegexLeadingGlyph = regexp.MustCompile(`^[\x{1F000}-\x{1FFFF}\x{2600}-\x{27BF}\x{2190}-\x{21FF}\x{2B00}-\x{2BFF}]+\s*`)

// emojiHandling implements spec.md §4.4 step 4: remove_emoji strips a
// leading emoji glyph before add_emoji runs; add_emoji then prepends the
// first matching rule's glyph, never twice.
func emojiHandling(in []model.Proxy, cfg Config) []model.Proxy {
	for i := range in {
		if cfg.RemoveEmoji {
			in[i].Remark = emojiRegexLeadingGlyph.ReplaceAllString(in[i].Remark, "")
		}
		if cfg.AddEmoji {
			for _, rule := range cfg.EmojiRules {
				re, err := regexp.Compile(rule.Pattern)
				if err != nil {
					continue
				}
				if re.MatchString(in[i].Remark) {
					if !strings.HasPrefix(in[i].Remark, rule.Emoji+" ") {
						in[i].Remark = rule.Emoji + " " + in[i].Remark
					}
					break
				}
			}
		}
	}
	return in
}

// rename applies each rename rule in order; later rules see earlier rules'
// output (spec.md §4.4 step 5).
func rename(in []model.Proxy, rules []RenameRule) []model.Proxy {
	if len(rules) == 0 {
		return in
	}
	for i := range in {
		for _, r := range rules {
			if r.Pattern == nil {
				continue
			}
			in[i].Remark = r.Pattern.ReplaceAllString(in[i].Remark, r.Replacement)
		}
	}
	return in
}

// dedup drops later occurrences sharing an identity key, keeping the first
// occurrence's position (spec.md §4.4 step 6). Idempotent: applying it
// twice yields the same list (spec.md §8).
func dedup(in []model.Proxy) []model.Proxy {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, p := range in {
		key := p.IdentityKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// sortProxies stably sorts by remark codepoint order, or by a custom key
// function when provided (spec.md §4.4 step 7).
func sortProxies(in []model.Proxy, keyFn func(model.Proxy) string) []model.Proxy {
	key := keyFn
	if key == nil {
		key = func(p model.Proxy) string { return p.Remark }
	}
	sort.SliceStable(in, func(i, j int) bool {
		return key(in[i]) < key(in[j])
	})
	return in
}

// appendType appends "[SS]"/"[VMESS]"/... to each remark (spec.md §4.4
// step 8).
func appendType(in []model.Proxy) []model.Proxy {
	for i := range in {
		in[i].Remark = in[i].Remark + " [" + strings.ToUpper(string(in[i].Kind)) + "]"
	}
	return in
}
