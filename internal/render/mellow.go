package render

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

// renderMellow produces Mellow's TOML-ish "[[Proxy]]"/"[[Rule]]" table
// array config, limited to the protocol set Mellow's android client
// actually parses, per spec.md §4.8.
func renderMellow(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	proxyBlocks := make([]string, 0, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(TargetMellow, p.Kind) {
			diag.skip(p, kindSkipReason(TargetMellow, p.Kind))
			continue
		}
		block, err := mellowProxyBlock(p)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyBlocks = append(proxyBlocks, block)
	}

	groupBlocks := make([]string, 0, len(res.Groups))
	for _, g := range res.Groups {
		switch g.Type {
		case model.GroupSelect, model.GroupURLTest, model.GroupFallback:
		default:
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("不支持的策略组类型：%s", g.Type), Stage: "render", Snippet: string(g.Type),
			}}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "[[Proxy]]\nname = %q\nprotocol = \"group\"\nmode = %q\n", g.Name, string(g.Type))
		for _, m := range g.ResolvedMembers {
			fmt.Fprintf(&b, "proxies = %q\n", m)
		}
		groupBlocks = append(groupBlocks, b.String())
	}

	ruleLines := make([]string, 0, len(res.Rulesets)+len(res.Rules))
	for _, rs := range res.Rulesets {
		if len(rs.Lines) > 0 {
			for _, r := range rs.Lines {
				if err := checkRuleType(TargetMellow, r); err != nil {
					return Blocks{}, diag, err
				}
				ruleLines = append(ruleLines, mellowRuleLine(r, rs.TargetGroup))
			}
			continue
		}
		ruleLines = append(ruleLines, fmt.Sprintf("[[Rule]]\ntype = \"RULE-SET\"\nvalue = %q\nproxy = %q", rs.URL, rs.TargetGroup))
	}
	for _, r := range res.Rules {
		if err := checkRuleType(TargetMellow, r); err != nil {
			return Blocks{}, diag, err
		}
		ruleLines = append(ruleLines, mellowRuleLine(r, r.Action))
	}

	return Blocks{
		Proxies: strings.Join(proxyBlocks, "\n"),
		Groups:  strings.Join(groupBlocks, "\n"),
		Rules:   strings.Join(ruleLines, "\n"),
	}, diag, nil
}

func mellowProxyBlock(p model.Proxy) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "[[Proxy]]\nname = %q\nserver = %q\nport = %d\n", p.Remark, p.Host, p.Port)
	switch p.Kind {
	case model.KindShadowsocks:
		fmt.Fprintf(&b, "protocol = \"ss\"\nmethod = %q\npassword = %q\n", strings.ToLower(p.SS.Cipher), p.SS.Password)
	case model.KindVMess:
		fmt.Fprintf(&b, "protocol = \"vmess\"\nuuid = %q\nalterId = %d\n", p.VMess.UUID, p.VMess.AlterID)
		if p.TLS.Enabled {
			b.WriteString("tls = true\n")
		}
	case model.KindTrojan:
		fmt.Fprintf(&b, "protocol = \"trojan\"\npassword = %q\n", p.Trojan.Password)
	case model.KindSocks5:
		b.WriteString("protocol = \"socks5\"\n")
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			fmt.Fprintf(&b, "username = %q\npassword = %q\n", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
	default:
		return "", &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "不支持的节点类型", Stage: "render", Snippet: string(p.Kind),
		}}
	}
	return b.String(), nil
}

func mellowRuleLine(r model.Rule, action string) string {
	if r.Type == model.RuleMatch {
		return fmt.Sprintf("[[Rule]]\ntype = \"FINAL\"\nproxy = %q", action)
	}
	return fmt.Sprintf("[[Rule]]\ntype = %q\nvalue = %q\nproxy = %q", string(r.Type), r.Value, action)
}
