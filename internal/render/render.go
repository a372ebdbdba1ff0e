// Package render turns a compiler.Result into a target-specific document,
// one file per target (spec.md §4.8), following the teacher's render.go
// dispatch shape.
package render

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

// Target names one client's configuration dialect.
type Target string

const (
	TargetClash        Target = "clash"
	TargetSurge        Target = "surge"
	TargetShadowrocket Target = "shadowrocket"
	TargetQuan         Target = "quan"
	TargetQuanx        Target = "quanx"
	TargetSingbox      Target = "singbox"
	TargetLoon         Target = "loon"
	TargetMellow       Target = "mellow"
	TargetSSD          Target = "ssd"
	TargetSSSub        Target = "sssub"
	TargetMixed        Target = "mixed"
)

// Blocks is the rendered document split into the sections a base template
// substitutes, mirroring the teacher's 3-anchor shape plus the Rulesets
// section formats without a Clash anchor use (spec.md §4.6).
type Blocks struct {
	Proxies  string
	Groups   string
	Rulesets string
	Rules    string
}

// SkipNote records one proxy a target's capability matrix could not
// represent; the document is still produced with every other node,
// matching spec.md §4.8's "unsupported nodes silently skipped" rule.
type SkipNote struct {
	Remark string
	Kind   model.Kind
	Reason string
}

// Diagnostics accumulates every SkipNote a render pass produced.
type Diagnostics struct {
	Skipped []SkipNote
}

func (d *Diagnostics) skip(p model.Proxy, reason string) {
	d.Skipped = append(d.Skipped, SkipNote{Remark: p.Remark, Kind: p.Kind, Reason: reason})
}

// RenderError is fatal to the request: a document-level problem (an
// unknown target, an unrepresentable group/rule name) rather than one
// skippable node.
type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// Render dispatches to the generator matching target, returning the
// rendered Blocks plus a Diagnostics value describing any node the target
// could not represent.
func Render(target Target, res *compiler.Result) (Blocks, Diagnostics, error) {
	if res == nil {
		return Blocks{}, Diagnostics{}, &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "render input 不能为空", Stage: "render",
		}}
	}
	switch target {
	case TargetClash:
		return renderClash(res)
	case TargetSurge:
		return renderSurgeLike(res, surgeProfile)
	case TargetShadowrocket:
		return renderSurgeLike(res, shadowrocketProfile)
	case TargetQuan:
		return renderQuan(res)
	case TargetQuanx:
		return renderQuanx(res)
	case TargetSingbox:
		return renderSingbox(res)
	case TargetLoon:
		return renderSurgeLike(res, loonProfile)
	case TargetMellow:
		return renderMellow(res)
	case TargetSSD:
		return renderSSD(res)
	case TargetSSSub:
		return renderSSSub(res)
	case TargetMixed:
		return renderMixed(res)
	default:
		return Blocks{}, Diagnostics{}, &RenderError{AppError: model.AppError{
			Code: "UNSUPPORTED_TARGET", Message: fmt.Sprintf("不支持的 target：%s", target), Stage: "render",
		}}
	}
}

// TargetForUserAgent maps a User-Agent substring to the client dialect it
// implies, per spec.md §4.8's "auto" target. httpapi reads the header and
// calls this; the core never touches net/http itself.
func TargetForUserAgent(ua string) Target {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "clash"):
		return TargetClash
	case strings.Contains(lower, "shadowrocket"):
		return TargetShadowrocket
	case strings.Contains(lower, "surge"):
		return TargetSurge
	case strings.Contains(lower, "quantumult%20x"), strings.Contains(lower, "quantumult x"):
		return TargetQuanx
	case strings.Contains(lower, "quantumult"):
		return TargetQuan
	case strings.Contains(lower, "sing-box"), strings.Contains(lower, "singbox"):
		return TargetSingbox
	case strings.Contains(lower, "loon"):
		return TargetLoon
	case strings.Contains(lower, "mellow"):
		return TargetMellow
	default:
		return TargetMixed
	}
}
