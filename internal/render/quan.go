package render

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

// renderQuan produces the legacy Quantumult (non-X) [SERVER]/[POLICY]/
// [FILTER] dialect, distinct from renderQuanx's INI key=value lines.
func renderQuan(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	proxyNameRep := make(map[string]string, len(res.Proxies))
	proxyLines := make([]string, 0, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(TargetQuan, p.Kind) {
			diag.skip(p, kindSkipReason(TargetQuan, p.Kind))
			continue
		}
		name, err := quanName(p.Remark)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyNameRep[p.Remark] = name

		line, err := quanProxyLine(p, name)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyLines = append(proxyLines, line)
	}

	groupLines := make([]string, 0, len(res.Groups))
	for _, g := range res.Groups {
		if err := quanPolicyNameOK(g.Name); err != nil {
			return Blocks{}, diag, err
		}
		members := make([]string, 0, len(g.ResolvedMembers))
		for _, m := range g.ResolvedMembers {
			members = append(members, quanMemberName(m, proxyNameRep))
		}
		memberList := strings.Join(members, ", ")

		testURL := g.HealthCheckURL
		if testURL == "" {
			testURL = "http://www.gstatic.com/generate_204"
		}
		interval := g.IntervalSec
		if interval <= 0 {
			interval = 600
		}

		switch g.Type {
		case model.GroupSelect:
			groupLines = append(groupLines, fmt.Sprintf("%s=select, %s", g.Name, memberList))
		case model.GroupURLTest:
			groupLines = append(groupLines, fmt.Sprintf("%s=url-test, %s, url=%s, interval=%d", g.Name, memberList, testURL, interval))
		case model.GroupFallback:
			groupLines = append(groupLines, fmt.Sprintf("%s=fallback, %s, url=%s, interval=%d", g.Name, memberList, testURL, interval))
		default:
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("不支持的策略组类型：%s", g.Type), Stage: "render", Snippet: string(g.Type),
			}}
		}
	}

	rulesetLines := make([]string, 0, len(res.Rulesets))
	ruleLines := make([]string, 0, len(res.Rulesets)+len(res.Rules))
	for _, rs := range res.Rulesets {
		policy, err := quanActionName(rs.TargetGroup)
		if err != nil {
			return Blocks{}, diag, err
		}
		for _, r := range rs.Lines {
			if err := checkRuleType(TargetQuan, r); err != nil {
				return Blocks{}, diag, err
			}
			ruleLines = append(ruleLines, ruleToQuanString(r, policy))
		}
	}
	for _, r := range res.Rules {
		action, err := quanActionName(r.Action)
		if err != nil {
			return Blocks{}, diag, err
		}
		if err := checkRuleType(TargetQuan, r); err != nil {
			return Blocks{}, diag, err
		}
		ruleLines = append(ruleLines, ruleToQuanString(r, action))
	}

	return Blocks{
		Proxies:  strings.Join(proxyLines, "\n"),
		Groups:   strings.Join(groupLines, "\n"),
		Rulesets: strings.Join(rulesetLines, "\n"),
		Rules:    strings.Join(ruleLines, "\n"),
	}, diag, nil
}

func quanProxyLine(p model.Proxy, name string) (string, error) {
	switch p.Kind {
	case model.KindShadowsocks:
		line := fmt.Sprintf("%s = shadowsocks, %s, %d, %s, %s", name, p.Host, p.Port, strings.ToLower(p.SS.Cipher), p.SS.Password)
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
	case model.KindShadowsocksR:
		return fmt.Sprintf("%s = shadowsocksr, %s, %d, %s, %s, %s, %s, %s, %s",
			name, p.Host, p.Port, strings.ToLower(p.SSR.Cipher), p.SSR.Password,
			p.SSR.Protocol, p.SSR.ProtocolParam, p.SSR.Obfs, p.SSR.ObfsParam), nil
	case model.KindVMess:
		line := fmt.Sprintf("%s = vmess, %s, %d, chacha20-poly1305, \"%s\", group=%s", name, p.Host, p.Port, p.VMess.UUID, p.VMess.UUID)
		switch p.Transport.Kind {
		case model.TransportWS:
			line += ", obfs=ws"
			if p.Transport.Path != "" {
				line += fmt.Sprintf(", obfs-path=\"%s\"", p.Transport.Path)
			}
			if p.Transport.Host != "" {
				line += fmt.Sprintf(", obfs-header=\"Host: %s\"", p.Transport.Host)
			}
		default:
			line += ", obfs=none"
		}
		if p.TLS.Enabled {
			line += ", over-tls=true"
			if p.TLS.SNI != "" {
				line += ", tls-host=" + p.TLS.SNI
			}
		}
		return line, nil
	case model.KindHTTP:
		line := fmt.Sprintf("%s = http, %s, %d", name, p.Host, p.Port)
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			line += fmt.Sprintf(", username=%s, password=%s", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
		return line, nil
	case model.KindHTTPS:
		line := fmt.Sprintf("%s = https, %s, %d", name, p.Host, p.Port)
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

func quanName(name string) (string, error) {
	if strings.ContainsAny(name, "\r\n\x00") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含非法控制字符", Stage: "render", Snippet: name,
		}}
	}
	if strings.Contains(name, "=") || strings.Contains(name, ",") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含 Quantumult 不支持的字符", Stage: "render", Snippet: name,
			Hint: "remove '=' or ',' from node name",
		}}
	}
	return name, nil
}

func quanPolicyNameOK(name string) error {
	if strings.ContainsAny(name, "\r\n\x00") || strings.Contains(name, ",") || strings.Contains(name, "=") {
		return &RenderError{AppError: model.AppError{
			Code: "PROFILE_VALIDATE_ERROR", Message: "策略组名/规则 action 含有 Quantumult 不支持的字符",
			Stage: "render", Snippet: name, Hint: "rename the group/action in profile",
		}}
	}
	return nil
}

func quanMemberName(member string, proxyNameRep map[string]string) string {
	switch member {
	case "DIRECT":
		return "direct"
	case "REJECT":
		return "reject"
	}
	if rep, ok := proxyNameRep[member]; ok {
		return rep
	}
	return member
}

func quanActionName(action string) (string, error) {
	switch action {
	case "DIRECT":
		return "direct", nil
	case "REJECT":
		return "reject", nil
	}
	if err := quanPolicyNameOK(action); err != nil {
		return "", err
	}
	return action, nil
}

func ruleToQuanString(r model.Rule, action string) string {
	if r.Type == model.RuleMatch {
		return fmt.Sprintf("FINAL,%s", action)
	}
	typ := string(r.Type)
	switch r.Type {
	case model.RuleDomain:
		typ = "HOST"
	case model.RuleDomainSuffix:
		typ = "HOST-SUFFIX"
	case model.RuleDomainKeyword:
		typ = "HOST-KEYWORD"
	case model.RuleIPCIDR6:
		typ = "IP6-CIDR"
	}
	return fmt.Sprintf("%s,%s,%s", typ, r.Value, action)
}
