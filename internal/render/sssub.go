package render

import (
	"encoding/base64"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri"
)

// renderSSSub produces the legacy "sssub" format: a base64 document of
// newline-joined ss:// links, Shadowsocks-only per spec.md §4.8.
func renderSSSub(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	links := make([]string, 0, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(TargetSSSub, p.Kind) {
			diag.skip(p, kindSkipReason(TargetSSSub, p.Kind))
			continue
		}
		link, err := uri.Emit(p)
		if err != nil {
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "SUB_PARSE_ERROR", Message: "节点无法编码为 ss:// 链接", Stage: "render", Snippet: p.Remark,
			}, Cause: err}
		}
		links = append(links, link)
	}

	body := base64.StdEncoding.EncodeToString([]byte(strings.Join(links, "\n")))
	return Blocks{Proxies: body}, diag, nil
}
