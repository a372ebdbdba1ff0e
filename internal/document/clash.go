package document

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

type clashDoc struct {
	Proxies []map[string]any `yaml:"proxies"`
}

// ParseClash reads a Clash-format YAML config's "proxies:" list. Unknown
// top-level fields are ignored since a Clash config carries many sections
// (rules, proxy-groups, dns...) this converter does not need to round-trip.
func ParseClash(sourceURL, content string) ([]model.Proxy, error) {
	var doc clashDoc
	dec := yaml.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&doc); err != nil {
		return nil, newParseError("clash", sourceURL, snippet(content), "DOC_YAML_DECODE_ERROR", "clash yaml decode failed", err)
	}
	if len(doc.Proxies) == 0 {
		return nil, newParseError("clash", sourceURL, "", "DOC_EMPTY", "clash config has no proxies", nil)
	}
	out := make([]model.Proxy, 0, len(doc.Proxies))
	for i, m := range doc.Proxies {
		p, err := clashProxyFromMap(m)
		if err != nil {
			return nil, newParseError("clash", sourceURL, fmt.Sprintf("proxies[%d]", i), "DOC_PARSE_ERROR", "invalid clash proxy entry", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func clashProxyFromMap(m map[string]any) (model.Proxy, error) {
	typ, _ := m["type"].(string)
	name, _ := m["name"].(string)
	server, _ := m["server"].(string)
	port := anyToInt(m["port"])

	p := model.Proxy{Remark: name, Host: server, Port: port}

	switch typ {
	case "ss":
		p.Kind = model.KindShadowsocks
		ss := &model.ShadowsocksFields{
			Cipher:   str(m["cipher"]),
			Password: str(m["password"]),
		}
		if pluginName := str(m["plugin"]); pluginName != "" {
			ss.PluginName = pluginName
			if opts, ok := m["plugin-opts"].(map[string]any); ok {
				for k, v := range opts {
					ss.PluginOpts = append(ss.PluginOpts, model.KV{Key: k, Value: fmt.Sprint(v)})
				}
			}
		}
		p.SS = ss
	case "ssr":
		p.Kind = model.KindShadowsocksR
		p.SSR = &model.ShadowsocksRFields{
			Cipher:        str(m["cipher"]),
			Password:      str(m["password"]),
			Protocol:      str(m["protocol"]),
			ProtocolParam: str(m["protocol-param"]),
			Obfs:          str(m["obfs"]),
			ObfsParam:     str(m["obfs-param"]),
		}
	case "vmess":
		p.Kind = model.KindVMess
		p.VMess = &model.VMessFields{
			UUID:     str(m["uuid"]),
			AlterID:  anyToInt(m["alterId"]),
			Security: strOr(m["cipher"], "auto"),
		}
		p.Transport = clashTransport(m)
		p.TLS = clashTLS(m)
	case "vless":
		p.Kind = model.KindVLESS
		p.VLESS = &model.VLESSFields{
			UUID: str(m["uuid"]),
			Flow: str(m["flow"]),
		}
		p.Transport = clashTransport(m)
		p.TLS = clashTLS(m)
	case "trojan":
		p.Kind = model.KindTrojan
		p.Trojan = &model.TrojanFields{Password: str(m["password"])}
		p.Transport = clashTransport(m)
		p.TLS = clashTLS(m)
		p.TLS.Enabled = true
	case "http":
		p.Kind = model.KindHTTP
		if boolOr(m["tls"], false) {
			p.Kind = model.KindHTTPS
			p.TLS.Enabled = true
		}
		p.HTTPProxy = &model.HTTPFields{Username: str(m["username"]), Password: str(m["password"])}
	case "socks5":
		p.Kind = model.KindSocks5
		p.HTTPProxy = &model.HTTPFields{Username: str(m["username"]), Password: str(m["password"])}
	case "hysteria2":
		p.Kind = model.KindHysteria2
		p.Hysteria = &model.HysteriaFields{Password: str(m["password"]), Obfs: str(m["obfs"])}
		p.TLS = clashTLS(m)
		p.TLS.Enabled = true
	case "snell":
		p.Kind = model.KindSnell
		p.Snell = &model.SnellFields{PSK: str(m["psk"]), Version: anyToInt(m["version"])}
	case "wireguard":
		p.Kind = model.KindWireGuard
		wg := &model.WireGuardFields{PrivateKey: str(m["private-key"])}
		if ip, ok := m["ip"].(string); ok && ip != "" {
			wg.Addresses = append(wg.Addresses, ip)
		}
		wg.Peers = []model.WireGuardPeer{{
			PublicKey:  str(m["public-key"]),
			AllowedIPs: []string{"0.0.0.0/0"},
		}}
		p.WireGuard = wg
	default:
		return model.Proxy{}, fmt.Errorf("unsupported clash proxy type: %q", typ)
	}

	if udp, ok := m["udp"]; ok {
		p.UDP = model.TriFromBool(boolOr(udp, false))
	}
	if tfo, ok := m["tfo"]; ok {
		p.TFO = model.TriFromBool(boolOr(tfo, false))
	}
	if skip, ok := m["skip-cert-verify"]; ok {
		p.SkipCertVerify = model.TriFromBool(boolOr(skip, false))
	}
	return p, nil
}

func clashTransport(m map[string]any) model.TransportDescriptor {
	network := str(m["network"])
	switch network {
	case "ws":
		opts, _ := m["ws-opts"].(map[string]any)
		td := model.TransportDescriptor{Kind: model.TransportWS, Path: str(opts["path"])}
		if headers, ok := opts["headers"].(map[string]any); ok {
			td.Host = str(headers["Host"])
		}
		return td
	case "grpc":
		opts, _ := m["grpc-opts"].(map[string]any)
		return model.TransportDescriptor{Kind: model.TransportGRPC, ServiceName: str(opts["grpc-service-name"])}
	case "h2":
		opts, _ := m["h2-opts"].(map[string]any)
		return model.TransportDescriptor{Kind: model.TransportH2, Path: str(opts["path"]), Host: str(opts["host"])}
	default:
		return model.TransportDescriptor{Kind: model.TransportTCP}
	}
}

func clashTLS(m map[string]any) model.TLSDescriptor {
	enabled := boolOr(m["tls"], false)
	td := model.TLSDescriptor{
		Enabled:        enabled,
		SNI:            str(m["sni"]),
		SkipCertVerify: boolOr(m["skip-cert-verify"], false),
	}
	if reality, ok := m["reality-opts"].(map[string]any); ok {
		td.Reality = &model.RealityDescriptor{
			PublicKey: str(reality["public-key"]),
			ShortID:   str(reality["short-id"]),
		}
		td.Enabled = true
	}
	return td
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func anyToInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func snippet(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
