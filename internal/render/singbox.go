package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

// sbOutbound is a minimal sing-box outbound object; only the fields this
// module's node model can populate are set, per spec.md §4.8.
type sbOutbound struct {
	Type       string   `json:"type"`
	Tag        string   `json:"tag"`
	Server     string   `json:"server,omitempty"`
	ServerPort int      `json:"server_port,omitempty"`
	Method     string   `json:"method,omitempty"`
	Password   string   `json:"password,omitempty"`
	UUID       string   `json:"uuid,omitempty"`
	Flow       string   `json:"flow,omitempty"`
	Username   string   `json:"username,omitempty"`
	Outbounds  []string `json:"outbounds,omitempty"`
	PrivateKey string   `json:"private_key,omitempty"`
	LocalAddr  []string `json:"local_address,omitempty"`

	TLS       *sbTLS       `json:"tls,omitempty"`
	Transport *sbTransport `json:"transport,omitempty"`
}

type sbTLS struct {
	Enabled    bool     `json:"enabled"`
	ServerName string   `json:"server_name,omitempty"`
	Insecure   bool     `json:"insecure,omitempty"`
	ALPN       []string `json:"alpn,omitempty"`
}

type sbTransport struct {
	Type        string `json:"type"`
	Path        string `json:"path,omitempty"`
	Host        string `json:"host,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

type sbRule struct {
	Domain        []string `json:"domain,omitempty"`
	DomainSuffix  []string `json:"domain_suffix,omitempty"`
	DomainKeyword []string `json:"domain_keyword,omitempty"`
	IPCIDR        []string `json:"ip_cidr,omitempty"`
	GeoIP         []string `json:"geoip,omitempty"`
	ProcessName   []string `json:"process_name,omitempty"`
	Outbound      string   `json:"outbound"`
}

type sbRuleSet struct {
	Tag    string `json:"tag"`
	Type   string `json:"type"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

func renderSingbox(res *compiler.Result) (Blocks, Diagnostics, error) {
	var diag Diagnostics

	outbounds := make([]sbOutbound, 0, len(res.Proxies))
	for _, p := range res.Proxies {
		if !Supports(TargetSingbox, p.Kind) {
			diag.skip(p, kindSkipReason(TargetSingbox, p.Kind))
			continue
		}
		ob, err := singboxOutbound(p)
		if err != nil {
			return Blocks{}, diag, err
		}
		outbounds = append(outbounds, ob)
	}
	proxiesJSON, err := marshalBlock(outbounds)
	if err != nil {
		return Blocks{}, diag, err
	}

	groups := make([]sbOutbound, 0, len(res.Groups))
	for _, g := range res.Groups {
		ob := sbOutbound{Tag: g.Name, Outbounds: g.ResolvedMembers}
		switch g.Type {
		case model.GroupSelect:
			ob.Type = "selector"
		case model.GroupURLTest:
			ob.Type = "urltest"
		case model.GroupFallback, model.GroupLoadBalance:
			ob.Type = "urltest"
		default:
			return Blocks{}, diag, &RenderError{AppError: model.AppError{
				Code: "INVALID_ARGUMENT", Message: fmt.Sprintf("不支持的策略组类型：%s", g.Type), Stage: "render", Snippet: string(g.Type),
			}}
		}
		groups = append(groups, ob)
	}
	groupsJSON, err := marshalBlock(groups)
	if err != nil {
		return Blocks{}, diag, err
	}

	ruleSets := make([]sbRuleSet, 0, len(res.Rulesets))
	rules := make([]sbRule, 0, len(res.Rulesets)+len(res.Rules))
	for i, rs := range res.Rulesets {
		if len(rs.Lines) > 0 {
			got, err := singboxRulesFromLines(rs.Lines, rs.TargetGroup)
			if err != nil {
				return Blocks{}, diag, err
			}
			rules = append(rules, got...)
			continue
		}
		tag := fmt.Sprintf("ruleset-%d", i)
		ruleSets = append(ruleSets, sbRuleSet{Tag: tag, Type: "remote", Format: "source", URL: rs.URL})
	}
	got, err := singboxRulesFromLines(res.Rules, "")
	if err != nil {
		return Blocks{}, diag, err
	}
	rules = append(rules, got...)

	rulesJSON, err := marshalBlock(rules)
	if err != nil {
		return Blocks{}, diag, err
	}
	rulesetsJSON, err := marshalBlock(ruleSets)
	if err != nil {
		return Blocks{}, diag, err
	}

	return Blocks{Proxies: proxiesJSON, Groups: groupsJSON, Rulesets: rulesetsJSON, Rules: rulesJSON}, diag, nil
}

func marshalBlock(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "sing-box JSON 编码失败", Stage: "render",
		}, Cause: err}
	}
	return string(b), nil
}

func singboxRulesFromLines(lines []model.Rule, forcedAction string) ([]sbRule, error) {
	out := make([]sbRule, 0, len(lines))
	for _, r := range lines {
		if err := checkRuleType(TargetSingbox, r); err != nil {
			return nil, err
		}
		action := r.Action
		if forcedAction != "" {
			action = forcedAction
		}
		if r.Type == model.RuleMatch {
			continue // no rule entry; no block here carries route.final, so MATCH's action is not emitted
		}
		rule := sbRule{Outbound: action}
		switch r.Type {
		case model.RuleDomain:
			rule.Domain = []string{r.Value}
		case model.RuleDomainSuffix:
			rule.DomainSuffix = []string{r.Value}
		case model.RuleDomainKeyword:
			rule.DomainKeyword = []string{r.Value}
		case model.RuleIPCIDR, model.RuleIPCIDR6:
			rule.IPCIDR = []string{r.Value}
		case model.RuleGEOIP:
			rule.GeoIP = []string{strings.ToLower(r.Value)}
		case model.RuleProcessName:
			rule.ProcessName = []string{r.Value}
		default:
			// URL-REGEX/USER-AGENT have no route-rule field in this module's
			// sing-box shape; drop them rather than emit an empty condition.
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}

func singboxOutbound(p model.Proxy) (sbOutbound, error) {
	ob := sbOutbound{Type: string(p.Kind), Tag: p.Remark, Server: p.Host, ServerPort: p.Port}
	switch p.Kind {
	case model.KindShadowsocks:
		ob.Method = strings.ToLower(p.SS.Cipher)
		ob.Password = p.SS.Password
	case model.KindVMess:
		ob.UUID = p.VMess.UUID
		ob.TLS = singboxTLS(p)
		ob.Transport = singboxTransport(p)
	case model.KindVLESS:
		ob.UUID = p.VLESS.UUID
		ob.Flow = p.VLESS.Flow
		ob.TLS = singboxTLS(p)
		ob.Transport = singboxTransport(p)
	case model.KindTrojan:
		ob.Password = p.Trojan.Password
		ob.TLS = singboxTLS(p)
		ob.Transport = singboxTransport(p)
	case model.KindHTTP, model.KindHTTPS, model.KindSocks5:
		ob.Type = "http"
		if p.Kind == model.KindSocks5 {
			ob.Type = "socks"
		}
		if p.HTTPProxy != nil {
			ob.Username = p.HTTPProxy.Username
			ob.Password = p.HTTPProxy.Password
		}
	case model.KindHysteria, model.KindHysteria2:
		ob.Password = p.Hysteria.Password
		if ob.Password == "" {
			ob.Password = p.Hysteria.Auth
		}
		ob.TLS = singboxTLS(p)
	case model.KindWireGuard:
		ob.PrivateKey = p.WireGuard.PrivateKey
		ob.LocalAddr = p.WireGuard.Addresses
	case model.KindSnell:
		ob.Password = p.Snell.PSK
	case model.KindShadowsocksR:
		ob.Type = "shadowsocksr"
		ob.Method = strings.ToLower(p.SSR.Cipher)
		ob.Password = p.SSR.Password
	default:
		return sbOutbound{}, &RenderError{AppError: model.AppError{
			Code: "INVALID_ARGUMENT", Message: "不支持的节点类型", Stage: "render", Snippet: string(p.Kind),
		}}
	}
	return ob, nil
}

func singboxTLS(p model.Proxy) *sbTLS {
	if !p.TLS.Enabled {
		return nil
	}
	return &sbTLS{Enabled: true, ServerName: p.TLS.SNI, Insecure: p.TLS.SkipCertVerify || p.SkipCertVerify.Bool(false), ALPN: p.TLS.ALPN}
}

func singboxTransport(p model.Proxy) *sbTransport {
	switch p.Transport.Kind {
	case model.TransportWS:
		return &sbTransport{Type: "ws", Path: p.Transport.Path, Host: p.Transport.Host}
	case model.TransportGRPC:
		return &sbTransport{Type: "grpc", ServiceName: p.Transport.ServiceName}
	case model.TransportH2:
		return &sbTransport{Type: "http", Path: p.Transport.Path, Host: p.Transport.Host}
	default:
		return nil
	}
}
