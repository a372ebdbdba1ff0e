package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

// surgeProfile/shadowrocketProfile/loonProfile are Target values fed back
// into renderSurgeLike: all three dialects share Surge's
// "name = type, key=value, ..." grammar and only differ in which proxy
// kinds they accept, per spec.md §4.8.
const (
	surgeProfile        = TargetSurge
	shadowrocketProfile = TargetShadowrocket
	loonProfile         = TargetLoon
)

func renderSurgeLike(res *compiler.Result, target Target) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	proxyLines := make([]string, 0, len(res.Proxies)+2)
	proxyLines = append(proxyLines, "DIRECT = direct", "REJECT = reject")

	proxyNameRep := make(map[string]string, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(target, p.Kind) {
			diag.skip(p, kindSkipReason(target, p.Kind))
			continue
		}
		rep, err := surgeProxyName(p.Remark)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyNameRep[p.Remark] = rep

		line, err := surgeLikeProxyLine(p, rep)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyLines = append(proxyLines, line)
	}

	groupLines, err := surgeLikeGroupLines(res.Groups, proxyNameRep)
	if err != nil {
		return Blocks{}, diag, err
	}

	ruleLines := make([]string, 0, len(res.Rulesets)+len(res.Rules))
	for _, rs := range res.Rulesets {
		if err := surgeGroupNameOK(rs.TargetGroup); err != nil && rs.TargetGroup != "DIRECT" && rs.TargetGroup != "REJECT" {
			return Blocks{}, diag, err
		}
		if len(rs.Lines) > 0 {
			for _, r := range rs.Lines {
				if err := checkRuleType(target, r); err != nil {
					return Blocks{}, diag, err
				}
				ruleLines = append(ruleLines, ruleLine(r, string(r.Type), "FINAL", rs.TargetGroup))
			}
			continue
		}
		if strings.ContainsAny(rs.URL, "\r\n\x00,") {
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "PROFILE_VALIDATE_ERROR", Message: "ruleset URL 含有不支持的字符", Stage: "render", Snippet: rs.URL,
			}}
		}
		ruleLines = append(ruleLines, "RULE-SET,"+rs.URL+","+rs.TargetGroup)
	}
	for _, r := range res.Rules {
		if r.Action != "DIRECT" && r.Action != "REJECT" {
			if err := surgeGroupNameOK(r.Action); err != nil {
				return Blocks{}, diag, err
			}
		}
		if err := checkRuleType(target, r); err != nil {
			return Blocks{}, diag, err
		}
		ruleLines = append(ruleLines, ruleLine(r, string(r.Type), "FINAL", r.Action))
	}

	return Blocks{
		Proxies: strings.Join(proxyLines, "\n"),
		Groups:  strings.Join(groupLines, "\n"),
		Rules:   strings.Join(ruleLines, "\n"),
	}, diag, nil
}

func surgeLikeProxyLine(p model.Proxy, name string) (string, error) {
	switch p.Kind {
	case model.KindShadowsocks:
		line := fmt.Sprintf("%s = ss, %s, %d, encrypt-method=%s, password=%s", name, p.Host, p.Port, strings.ToLower(p.SS.Cipher), p.SS.Password)
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
		return fmt.Sprintf("%s = ssr, %s, %d, encrypt-method=%s, password=%s, protocol=%s, obfs=%s",
			name, p.Host, p.Port, strings.ToLower(p.SSR.Cipher), p.SSR.Password, p.SSR.Protocol, p.SSR.Obfs), nil
	case model.KindVMess:
		line := fmt.Sprintf("%s = vmess, %s, %d, username=%s", name, p.Host, p.Port, p.VMess.UUID)
		if p.TLS.Enabled {
			line += ", tls=true"
		}
		if p.Transport.Kind == model.TransportWS {
			line += ", ws=true"
			if p.Transport.Path != "" {
				line += ", ws-path=" + p.Transport.Path
			}
		}
		return line, nil
	case model.KindTrojan:
		line := fmt.Sprintf("%s = trojan, %s, %d, password=%s", name, p.Host, p.Port, p.Trojan.Password)
		if p.TLS.SNI != "" {
			line += ", sni=" + p.TLS.SNI
		}
		return line, nil
	case model.KindHTTP, model.KindHTTPS:
		line := fmt.Sprintf("%s = http, %s, %d", name, p.Host, p.Port)
		if p.Kind == model.KindHTTPS {
			line += ", tls=true"
		}
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			line += fmt.Sprintf(", username=%s, password=%s", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
		return line, nil
	case model.KindSocks5:
		line := fmt.Sprintf("%s = socks5, %s, %d", name, p.Host, p.Port)
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			line += fmt.Sprintf(", username=%s, password=%s", p.HTTPProxy.Username, p.HTTPProxy.Password)
		}
		return line, nil
	case model.KindSnell:
		line := fmt.Sprintf("%s = snell, %s, %d, psk=%s, version=%d", name, p.Host, p.Port, p.Snell.PSK, p.Snell.Version)
		return line, nil
	case model.KindWireGuard:
		line := fmt.Sprintf("%s = wireguard, section-name=%s", name, name)
		return line, nil
	case model.KindVLESS:
		line := fmt.Sprintf("%s = vless, %s, %d, username=%s", name, p.Host, p.Port, p.VLESS.UUID)
		if p.VLESS.Flow != "" {
			line += ", flow=" + p.VLESS.Flow
		}
		if p.TLS.Enabled {
			line += ", tls=true"
		}
		return line, nil
	case model.KindHysteria, model.KindHysteria2:
		pass := p.Hysteria.Password
		if pass == "" {
			pass = p.Hysteria.Auth
		}
		proto := "hysteria2"
		if p.Kind == model.KindHysteria {
			proto = "hysteria"
		}
		line := fmt.Sprintf("%s = %s, %s, %d, password=%s", name, proto, p.Host, p.Port, pass)
		return line, nil
	default:
		return "", &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "不支持的节点类型", Stage: "render", Snippet: string(p.Kind),
		}}
	}
}

func surgeLikeGroupLines(groups []model.Group, proxyNameRep map[string]string) ([]string, error) {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if err := surgeGroupNameOK(g.Name); err != nil {
			return nil, err
		}
		var b strings.Builder
		b.WriteString(g.Name)
		switch g.Type {
		case model.GroupSelect:
			b.WriteString(" = select")
		case model.GroupURLTest:
			b.WriteString(" = url-test")
		case model.GroupFallback:
			b.WriteString(" = fallback")
		case model.GroupLoadBalance:
			b.WriteString(" = load-balance")
		default:
			return nil, &RenderError{AppError: model.AppError{
				Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("不支持的策略组类型：%s", g.Type), Stage: "render", Snippet: string(g.Type),
			}}
		}
		for _, m := range g.ResolvedMembers {
			b.WriteString(", ")
			b.WriteString(surgeMemberName(m, proxyNameRep))
		}
		if g.Type == model.GroupURLTest || g.Type == model.GroupFallback || g.Type == model.GroupLoadBalance {
			b.WriteString(", url=")
			b.WriteString(g.HealthCheckURL)
			b.WriteString(", interval=")
			b.WriteString(strconv.Itoa(g.IntervalSec))
			if g.HasTolerance {
				b.WriteString(", tolerance=")
				b.WriteString(strconv.Itoa(g.ToleranceMS))
			}
		}
		out = append(out, b.String())
	}
	return out, nil
}

func surgeProxyName(name string) (string, error) {
	if strings.ContainsAny(name, "\r\n\x00") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含非法控制字符", Stage: "render", Snippet: name,
		}}
	}
	if strings.Contains(name, "\"") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含双引号，无法输出到 Surge/Shadowrocket/Loon", Stage: "render", Snippet: name,
			Hint: "remove '\"' from node name",
		}}
	}
	if strings.Contains(name, "=") {
		return "", &RenderError{AppError: model.AppError{
			Code: "SUB_PARSE_ERROR", Message: "节点名包含 '='，无法输出到 Surge/Shadowrocket/Loon", Stage: "render", Snippet: name,
		}}
	}
	if strings.Contains(name, ",") {
		return "\"" + name + "\"", nil
	}
	return name, nil
}

func surgeGroupNameOK(name string) error {
	if strings.ContainsAny(name, "\r\n\x00") || strings.Contains(name, ",") || strings.Contains(name, "=") {
		return &RenderError{AppError: model.AppError{
			Code: "PROFILE_VALIDATE_ERROR", Message: "策略组名/规则 action 含有不支持的字符（, 或 = 或控制字符）",
			Stage: "render", Snippet: name, Hint: "rename the group/action in profile",
		}}
	}
	return nil
}

func surgeMemberName(member string, proxyNameRep map[string]string) string {
	if rep, ok := proxyNameRep[member]; ok {
		return rep
	}
	return member
}
