package render

import (
	"encoding/base64"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri"
)

// renderMixed produces the generic "mixed" fallback: a base64 document of
// newline-joined scheme links (ss/ssr/vmess/vless/trojan/...), used when no
// client dialect could be inferred, per spec.md §4.8.
func renderMixed(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	links := make([]string, 0, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(TargetMixed, p.Kind) {
			diag.skip(p, kindSkipReason(TargetMixed, p.Kind))
			continue
		}
		link, err := uri.Emit(p)
		if err != nil {
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "SUB_PARSE_ERROR", Message: "节点无法编码为分享链接", Stage: "render", Snippet: p.Remark,
			}, Cause: err}
		}
		links = append(links, link)
	}

	body := base64.StdEncoding.EncodeToString([]byte(strings.Join(links, "\n")))
	return Blocks{Proxies: body}, diag, nil
}
