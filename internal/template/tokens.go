package template

import (
	"fmt"
	"regexp"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

var (
	tokenPattern   = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)
	includePattern = regexp.MustCompile(`\{\{#\s*include\s+"([^"]*)"\s*\}\}`)
)

// Include fetches the content a "{{# include "path" }}" directive names.
// The core never reads a filesystem or the network directly; callers wire
// Include to whatever resolves "path" in their deployment (local file,
// fetch.FetchText, an embedded FS), per spec.md §9's I/O-behind-an-interface
// design note.
type Include func(path string) (string, error)

// RenderTokens runs the minimal "{{ key }}" substitution pass plus
// "{{# include "path" }}" expansion spec.md §4.6 requires, applied before
// anchor injection so a base template may use either mechanism. Unknown
// keys expand to the empty string; a missing include is a TemplateError.
func RenderTokens(tmpl string, vars map[string]string, include Include) (string, error) {
	out, err := expandIncludes(tmpl, include, 0)
	if err != nil {
		return "", err
	}
	out = tokenPattern.ReplaceAllStringFunc(out, func(m string) string {
		sub := tokenPattern.FindStringSubmatch(m)
		if len(sub) != 2 {
			return ""
		}
		return vars[sub[1]]
	})
	return out, nil
}

const maxIncludeDepth = 8

func expandIncludes(tmpl string, include Include, depth int) (string, error) {
	if !includePattern.MatchString(tmpl) {
		return tmpl, nil
	}
	if depth >= maxIncludeDepth {
		return "", &TemplateError{AppError: model.AppError{
			Code:    "TEMPLATE_INCLUDE_MISSING",
			Message: "include 嵌套层数过深",
			Stage:   "render_template",
		}}
	}
	if include == nil {
		return "", &TemplateError{AppError: model.AppError{
			Code:    "TEMPLATE_INCLUDE_MISSING",
			Message: "template 含有 include 指令但未提供 Include 解析器",
			Stage:   "render_template",
		}}
	}

	var outErr error
	expanded := includePattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		if outErr != nil {
			return ""
		}
		sub := includePattern.FindStringSubmatch(m)
		path := sub[1]
		body, err := include(path)
		if err != nil {
			outErr = &TemplateError{AppError: model.AppError{
				Code:    "TEMPLATE_INCLUDE_MISSING",
				Message: fmt.Sprintf("include 失败: %s", path),
				Stage:   "render_template",
				Snippet: path,
			}, Cause: err}
			return ""
		}
		nested, err := expandIncludes(body, include, depth+1)
		if err != nil {
			outErr = err
			return ""
		}
		return nested
	})
	if outErr != nil {
		return "", outErr
	}
	return expanded, nil
}

// VarsFromBlocks is a small convenience for callers composing the token
// pass with the anchor pass: it exposes the given rulesets block under the
// token keys "rule_providers" and "rulesets" (no other render.Blocks field
// is exposed), letting a Clash base template reference
// "{{ rule_providers }}" outside the 3 anchor sections while proxies/
// groups/rules still flow through InjectAnchors.
func VarsFromBlocks(rulesets string) map[string]string {
	return map[string]string{"rule_providers": rulesets, "rulesets": rulesets}
}
