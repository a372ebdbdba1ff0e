package render

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

func renderClash(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	proxyLines := make([]string, 0, len(res.Proxies)*6)
	proxyNames := make(map[model.Kind]bool)
	for _, p := range res.Proxies {
		if !Supports(TargetClash, p.Kind) {
			diag.skip(p, kindSkipReason(TargetClash, p.Kind))
			continue
		}
		proxyNames[p.Kind] = true
		lines, err := clashProxyLines(p)
		if err != nil {
			return Blocks{}, diag, err
		}
		proxyLines = append(proxyLines, lines...)
	}

	groupLines, err := clashGroupLines(res.Groups)
	if err != nil {
		return Blocks{}, diag, err
	}

	ruleProvidersBlock, providerNames, err := renderClashRuleProviders(res.Rulesets)
	if err != nil {
		return Blocks{}, diag, err
	}

	ruleLines := make([]string, 0, len(res.Rulesets)+len(res.Rules))
	for i, rs := range res.Rulesets {
		if len(rs.Lines) > 0 {
			for _, r := range rs.Lines {
				if err := checkRuleType(TargetClash, r); err != nil {
					return Blocks{}, diag, err
				}
				ruleLines = append(ruleLines, "- "+yamlDQ(ruleLine(r, string(r.Type), "MATCH", rs.TargetGroup)))
			}
			continue
		}
		ruleLines = append(ruleLines, "- "+yamlDQ("RULE-SET,"+providerNames[i]+","+rs.TargetGroup))
	}
	for _, r := range res.Rules {
		if err := checkRuleType(TargetClash, r); err != nil {
			return Blocks{}, diag, err
		}
		ruleLines = append(ruleLines, "- "+yamlDQ(ruleLine(r, string(r.Type), "MATCH", r.Action)))
	}

	return Blocks{
		Proxies:  strings.Join(proxyLines, "\n"),
		Groups:   strings.Join(groupLines, "\n"),
		Rulesets: ruleProvidersBlock,
		Rules:    strings.Join(ruleLines, "\n"),
	}, diag, nil
}

func clashProxyLines(p model.Proxy) ([]string, error) {
	l := []string{
		"- name: " + yamlDQ(p.Remark),
		"  type: " + string(p.Kind),
		"  server: " + yamlDQ(p.Host),
		"  port: " + strconv.Itoa(p.Port),
	}
	switch p.Kind {
	case model.KindShadowsocks:
		l = append(l, "  cipher: "+yamlDQ(strings.ToLower(p.SS.Cipher)), "  password: "+yamlDQ(p.SS.Password))
		if p.SS.PluginName != "" {
			mode, host, err := parseSSObfsPlugin(p)
			if err != nil {
				return nil, err
			}
			l = append(l, "  plugin: obfs", "  plugin-opts:", "    mode: "+yamlDQ(mode))
			if host != "" {
				l = append(l, "    host: "+yamlDQ(host))
			}
		}
	case model.KindShadowsocksR:
		l = append(l,
			"  cipher: "+yamlDQ(strings.ToLower(p.SSR.Cipher)),
			"  password: "+yamlDQ(p.SSR.Password),
			"  protocol: "+yamlDQ(p.SSR.Protocol),
			"  obfs: "+yamlDQ(p.SSR.Obfs))
		if p.SSR.ProtocolParam != "" {
			l = append(l, "  protocol-param: "+yamlDQ(p.SSR.ProtocolParam))
		}
		if p.SSR.ObfsParam != "" {
			l = append(l, "  obfs-param: "+yamlDQ(p.SSR.ObfsParam))
		}
	case model.KindVMess:
		l = append(l, "  uuid: "+yamlDQ(p.VMess.UUID), "  alterId: "+strconv.Itoa(p.VMess.AlterID), "  cipher: "+yamlDQ(p.VMess.Security))
		l = append(l, clashTransportLines(p)...)
		l = append(l, clashTLSLines(p)...)
	case model.KindVLESS:
		l = append(l, "  uuid: "+yamlDQ(p.VLESS.UUID))
		if p.VLESS.Flow != "" {
			l = append(l, "  flow: "+yamlDQ(p.VLESS.Flow))
		}
		l = append(l, clashTransportLines(p)...)
		l = append(l, clashTLSLines(p)...)
	case model.KindTrojan:
		l = append(l, "  password: "+yamlDQ(p.Trojan.Password))
		l = append(l, clashTransportLines(p)...)
		l = append(l, clashTLSLines(p)...)
	case model.KindHTTP, model.KindHTTPS:
		l[1] = "  type: http"
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			l = append(l, "  username: "+yamlDQ(p.HTTPProxy.Username), "  password: "+yamlDQ(p.HTTPProxy.Password))
		}
		l = append(l, "  tls: "+strconv.FormatBool(p.Kind == model.KindHTTPS || p.TLS.Enabled))
	case model.KindSocks5:
		if p.HTTPProxy != nil && p.HTTPProxy.Username != "" {
			l = append(l, "  username: "+yamlDQ(p.HTTPProxy.Username), "  password: "+yamlDQ(p.HTTPProxy.Password))
		}
	case model.KindHysteria2:
		l = append(l, "  password: "+yamlDQ(p.Hysteria.Password))
		if p.Hysteria.Obfs != "" {
			l = append(l, "  obfs: "+yamlDQ(p.Hysteria.Obfs))
		}
		if p.Hysteria.Up != "" {
			l = append(l, "  up: "+yamlDQ(p.Hysteria.Up))
		}
		if p.Hysteria.Down != "" {
			l = append(l, "  down: "+yamlDQ(p.Hysteria.Down))
		}
		l = append(l, clashTLSLines(p)...)
	case model.KindWireGuard:
		l = append(l, "  private-key: "+yamlDQ(p.WireGuard.PrivateKey))
		if len(p.WireGuard.Addresses) > 0 {
			l = append(l, "  ip: "+yamlDQ(p.WireGuard.Addresses[0]))
		}
		if len(p.WireGuard.Peers) > 0 {
			peer := p.WireGuard.Peers[0]
			l = append(l, "  public-key: "+yamlDQ(peer.PublicKey))
		}
		if p.WireGuard.MTU > 0 {
			l = append(l, "  mtu: "+strconv.Itoa(p.WireGuard.MTU))
		}
	case model.KindSnell:
		l = append(l, "  psk: "+yamlDQ(p.Snell.PSK), "  version: "+strconv.Itoa(p.Snell.Version))
	default:
		return nil, &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "不支持的节点类型", Stage: "render", Snippet: string(p.Kind),
		}}
	}
	if p.UDP.Bool(false) {
		l = append(l, "  udp: true")
	}
	return l, nil
}

func clashTransportLines(p model.Proxy) []string {
	switch p.Transport.Kind {
	case model.TransportWS:
		l := []string{"  network: ws", "  ws-opts:"}
		if p.Transport.Path != "" {
			l = append(l, "    path: "+yamlDQ(p.Transport.Path))
		}
		if p.Transport.Host != "" {
			l = append(l, "    headers:", "      Host: "+yamlDQ(p.Transport.Host))
		}
		return l
	case model.TransportGRPC:
		l := []string{"  network: grpc", "  grpc-opts:"}
		if p.Transport.ServiceName != "" {
			l = append(l, "    grpc-service-name: "+yamlDQ(p.Transport.ServiceName))
		}
		return l
	case model.TransportH2:
		l := []string{"  network: h2", "  h2-opts:"}
		if p.Transport.Host != "" {
			l = append(l, "    host:", "      - "+yamlDQ(p.Transport.Host))
		}
		if p.Transport.Path != "" {
			l = append(l, "    path: "+yamlDQ(p.Transport.Path))
		}
		return l
	default:
		return nil
	}
}

func clashTLSLines(p model.Proxy) []string {
	if !p.TLS.Enabled {
		return nil
	}
	l := []string{"  tls: true"}
	if p.TLS.SNI != "" {
		l = append(l, "  servername: "+yamlDQ(p.TLS.SNI))
	}
	if p.TLS.SkipCertVerify || p.SkipCertVerify.Bool(false) {
		l = append(l, "  skip-cert-verify: true")
	}
	if p.TLS.Reality != nil {
		l = append(l, "  reality-opts:", "    public-key: "+yamlDQ(p.TLS.Reality.PublicKey))
		if p.TLS.Reality.ShortID != "" {
			l = append(l, "    short-id: "+yamlDQ(p.TLS.Reality.ShortID))
		}
	}
	return l
}

func clashGroupLines(groups []model.Group) ([]string, error) {
	out := make([]string, 0, len(groups)*6)
	for _, g := range groups {
		out = append(out, "- name: "+yamlDQ(g.Name), "  type: "+string(g.Type), "  proxies:")
		for _, m := range g.ResolvedMembers {
			out = append(out, "    - "+yamlDQ(m))
		}
		switch g.Type {
		case model.GroupURLTest, model.GroupFallback, model.GroupLoadBalance:
			out = append(out, "  url: "+yamlDQ(g.HealthCheckURL), "  interval: "+strconv.Itoa(g.IntervalSec))
			if g.HasTolerance {
				out = append(out, "  tolerance: "+strconv.Itoa(g.ToleranceMS))
			}
		}
	}
	return out, nil
}

func renderClashRuleProviders(refs []model.Ruleset) (block string, providerNames []string, err error) {
	if len(refs) == 0 {
		return "{}", nil, nil
	}
	used := make(map[string]int, len(refs))
	providerNames = make([]string, len(refs))
	lines := make([]string, 0, len(refs)*5)

	for i, rs := range refs {
		if len(rs.Lines) > 0 {
			providerNames[i] = ""
			continue
		}
		if strings.TrimSpace(rs.URL) == "" {
			return "", nil, &RenderError{AppError: model.AppError{
				Code: "PROFILE_VALIDATE_ERROR", Message: "ruleset URL 不能为空", Stage: "render",
			}}
		}
		name := clashRuleProviderName(rs.URL, used)
		providerNames[i] = name
		lines = append(lines, name+":", "  type: http", "  behavior: "+string(rs.Behavior), "  url: "+yamlDQ(rs.URL), "  interval: 86400")
	}
	if len(lines) == 0 {
		return "{}", providerNames, nil
	}
	return strings.Join(lines, "\n"), providerNames, nil
}

func clashRuleProviderName(rawURL string, used map[string]int) string {
	base := ""
	if u, err := url.Parse(strings.TrimSpace(rawURL)); err == nil && u != nil {
		base = path.Base(u.Path)
	}
	if base == "" || base == "." || base == "/" {
		base = "ruleset"
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = sanitizeClashRuleProviderName(base)
	if base == "" {
		base = "ruleset"
	}
	if n, ok := used[base]; ok {
		n++
		used[base] = n
		return fmt.Sprintf("%s-%d", base, n)
	}
	used[base] = 1
	return base
}

func sanitizeClashRuleProviderName(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if len(out) > 60 {
		out = out[:60]
	}
	return out
}
