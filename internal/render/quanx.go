package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

func renderQuanx(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	proxyTagRep := make(map[string]string, len(res.Proxies))
	proxyLines := make([]string, 0, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(TargetQuanx, p.Kind) {
			diag.skip(p, kindSkipReason(TargetQuanx, p.Kind))
			continue
		}
		tag, err := quanxTag(p.Remark)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyTagRep[p.Remark] = tag

		line, err := quanxProxyLine(p, tag)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyLines = append(proxyLines, line)
	}

	groupLines := make([]string, 0, len(res.Groups))
	for _, g := range res.Groups {
		if err := quanxPolicyNameOK(g.Name); err != nil {
			return Blocks{}, diag, err
		}
		var b strings.Builder
		switch g.Type {
		case model.GroupSelect:
			b.WriteString("static=")
			b.WriteString(g.Name)
		case model.GroupURLTest:
			b.WriteString("url-latency-benchmark=")
			b.WriteString(g.Name)
		default:
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("不支持的策略组类型：%s", g.Type), Stage: "render", Snippet: string(g.Type),
			}}
		}
		for _, m := range g.ResolvedMembers {
			b.WriteString(", ")
			b.WriteString(quanxMemberName(m, proxyTagRep))
		}
		if g.Type == model.GroupURLTest {
			b.WriteString(", check-interval=")
			b.WriteString(strconv.Itoa(g.IntervalSec))
			if g.HasTolerance {
				b.WriteString(", tolerance=")
				b.WriteString(strconv.Itoa(g.ToleranceMS))
			}
		}
		groupLines = append(groupLines, b.String())
	}

	rulesetLines := make([]string, 0, len(res.Rulesets))
	ruleLines := make([]string, 0, len(res.Rulesets)+len(res.Rules))
	tagCounts := make(map[string]int, len(res.Rulesets))
	for _, rs := range res.Rulesets {
		policy, err := quanxActionName(rs.TargetGroup)
		if err != nil {
			return Blocks{}, diag, err
		}
		if len(rs.Lines) > 0 {
			for _, r := range rs.Lines {
				if err := checkRuleType(TargetQuanx, r); err != nil {
					return Blocks{}, diag, err
				}
				ruleLines = append(ruleLines, ruleToQuanxString(r, policy))
			}
			continue
		}
		if strings.ContainsAny(rs.URL, "\r\n\x00,") {
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "PROFILE_VALIDATE_ERROR", Message: "ruleset URL 含有 Quantumult X 不支持的字符", Stage: "render", Snippet: rs.URL,
			}}
		}
		tagCounts[rs.TargetGroup]++
		tag := rs.TargetGroup
		if tagCounts[rs.TargetGroup] > 1 {
			tag = fmt.Sprintf("%s-%d", rs.TargetGroup, tagCounts[rs.TargetGroup])
		}
		rulesetLines = append(rulesetLines, fmt.Sprintf("%s, tag=%s, force-policy=%s, enabled=true", rs.URL, tag, policy))
	}
	for _, r := range res.Rules {
		action, err := quanxActionName(r.Action)
		if err != nil {
			return Blocks{}, diag, err
		}
		if err := checkRuleType(TargetQuanx, r); err != nil {
			return Blocks{}, diag, err
		}
		ruleLines = append(ruleLines, ruleToQuanxString(r, action))
	}

	return Blocks{
		Proxies:  strings.Join(proxyLines, "\n"),
		Groups:   strings.Join(groupLines, "\n"),
		Rulesets: strings.Join(rulesetLines, "\n"),
		Rules:    strings.Join(ruleLines, "\n"),
	}, diag, nil
}

func quanxProxyLine(p model.Proxy, tag string) (string, error) {
	switch p.Kind {
	case model.KindShadowsocks:
		line := fmt.Sprintf("shadowsocks = %s:%d, method=%s, password=%s, tag=%s", p.Host, p.Port, strings.ToLower(p.SS.Cipher), p.SS.Password, tag)
		if p.SS.PluginName != "" {
			mode, host, err := parseSSObfsPlugin(p)
			if err != nil {
				return "", err
			}
			line += ", obfs=" + mode
			if host != "" {
				line += ", obfs-host=" + host
			}
		}
		return line, nil
	case model.KindVMess:
		line := fmt.Sprintf("vmess = %s:%d, method=%s, password=%s, tag=%s", p.Host, p.Port, p.VMess.Security, p.VMess.UUID, tag)
		if p.TLS.Enabled {
			line += ", obfs=over-tls"
		}
		return line, nil
	case model.KindTrojan:
		return fmt.Sprintf("trojan = %s:%d, password=%s, over-tls=true, tls-host=%s, tag=%s", p.Host, p.Port, p.Trojan.Password, p.TLS.SNI, tag), nil
	case model.KindHTTP, model.KindHTTPS:
		line := fmt.Sprintf("http = %s:%d, tag=%s", p.Host, p.Port, tag)
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			line += fmt.Sprintf(", username=%s, password=%s", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
		return line, nil
	case model.KindSocks5:
		line := fmt.Sprintf("socks5 = %s:%d, tag=%s", p.Host, p.Port, tag)
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			line += fmt.Sprintf(", username=%s, password=%s", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
		return line, nil
	default:
		return "", &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "不支持的节点类型", Stage: "render", Snippet: string(p.Kind),
		}}
	}
}

func quanxTag(tag string) (string, error) {
	if strings.ContainsAny(tag, "\r\n\x00") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含非法控制字符", Stage: "render", Snippet: tag,
		}}
	}
	if strings.Contains(tag, "\"") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含双引号，无法输出到 Quantumult X", Stage: "render", Snippet: tag,
			Hint: "remove '\"' from node name",
		}}
	}
	if strings.Contains(tag, ",") {
		return "\"" + tag + "\"", nil
	}
	return tag, nil
}

func quanxPolicyNameOK(name string) error {
	if strings.ContainsAny(name, "\r\n\x00") || strings.Contains(name, ",") || strings.Contains(name, "=") {
		return &RenderError{AppError: model.AppError{
			Code: "PROFILE_VALIDATE_ERROR", Message: "策略组名/规则 action 含有 Quantumult X 不支持的字符",
			Stage: "render", Snippet: name, Hint: "rename the group/action in profile",
		}}
	}
	return nil
}

func quanxMemberName(member string, proxyTagRep map[string]string) string {
	switch member {
	case "DIRECT":
		return "direct"
	case "REJECT":
		return "reject"
	}
	if rep, ok := proxyTagRep[member]; ok {
		return rep
	}
	return member
}

func quanxActionName(action string) (string, error) {
	switch action {
	case "DIRECT":
		return "direct", nil
	case "REJECT":
		return "reject", nil
	}
	if err := quanxPolicyNameOK(action); err != nil {
		return "", err
	}
	return action, nil
}

func ruleToQuanxString(r model.Rule, action string) string {
	typ := string(r.Type)
	if r.Type == model.RuleIPCIDR6 {
		typ = "IP6-CIDR"
	}
	if r.Type == model.RuleMatch {
		return fmt.Sprintf("FINAL,%s", action)
	}
	if (r.Type == model.RuleIPCIDR || r.Type == model.RuleIPCIDR6) && r.NoResolve {
		return fmt.Sprintf("%s,%s,%s,no-resolve", typ, r.Value, action)
	}
	return fmt.Sprintf("%s,%s,%s", typ, r.Value, action)
}
