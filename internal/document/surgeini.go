package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

// ParseSurgeProxyList reads the "[Proxy]" section of a Surge/Loon-style
// INI config: "name = type, server, port, key=value, ...".
func ParseSurgeProxyList(sourceURL, content string) ([]model.Proxy, error) {
	lines := proxySectionLines(content)
	if len(lines) == 0 {
		return nil, newParseError("surge", sourceURL, "", "DOC_EMPTY", "no [Proxy] section found", nil)
	}
	out := make([]model.Proxy, 0, len(lines))
	for i, line := range lines {
		p, err := parseSurgeProxyLine(line)
		if err != nil {
			return nil, newParseError("surge", sourceURL, fmt.Sprintf("line %d: %s", i+1, snippet(line)), "DOC_PARSE_ERROR", "invalid surge proxy line", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func proxySectionLines(content string) []string {
	var out []string
	inSection := false
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = strings.EqualFold(line, "[Proxy]")
			continue
		}
		if inSection {
			out = append(out, line)
		}
	}
	return out
}

func parseSurgeProxyLine(line string) (model.Proxy, error) {
	name, rest, ok := strings.Cut(line, "=")
	if !ok {
		return model.Proxy{}, fmt.Errorf("missing '='")
	}
	name = strings.TrimSpace(name)
	fields := splitCommaRespectingBrackets(rest)
	if len(fields) < 3 {
		return model.Proxy{}, fmt.Errorf("expected at least type, server, port")
	}
	typ := strings.TrimSpace(fields[0])
	server := strings.TrimSpace(fields[1])
	port, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return model.Proxy{}, fmt.Errorf("invalid port: %w", err)
	}
	opts := map[string]string{}
	for _, f := range fields[3:] {
		f = strings.TrimSpace(f)
		if k, v, ok := strings.Cut(f, "="); ok {
			opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}

	p := model.Proxy{Remark: name, Host: server, Port: port}
	switch strings.ToLower(typ) {
	case "ss", "shadowsocks":
		p.Kind = model.KindShadowsocks
		p.SS = &model.ShadowsocksFields{Cipher: opts["encrypt-method"], Password: opts["password"]}
	case "vmess":
		p.Kind = model.KindVMess
		p.VMess = &model.VMessFields{UUID: opts["username"], Security: strOrDefault(opts["encrypt-method"], "auto")}
		if opts["ws"] == "true" {
			p.Transport = model.TransportDescriptor{Kind: model.TransportWS, Path: opts["ws-path"]}
		}
		p.TLS.Enabled = opts["tls"] == "true"
		p.TLS.SNI = opts["sni"]
	case "trojan":
		p.Kind = model.KindTrojan
		p.Trojan = &model.TrojanFields{Password: opts["password"]}
		p.TLS.Enabled = true
		p.TLS.SNI = opts["sni"]
	case "http", "https":
		p.Kind = model.KindHTTP
		if typ == "https" || opts["tls"] == "true" {
			p.Kind = model.KindHTTPS
			p.TLS.Enabled = true
		}
		p.HTTPProxy = &model.HTTPFields{Username: opts["username"], Password: opts["password"]}
	case "socks5", "socks5-tls":
		p.Kind = model.KindSocks5
		p.HTTPProxy = &model.HTTPFields{Username: opts["username"], Password: opts["password"]}
	case "snell":
		p.Kind = model.KindSnell
		ver, _ := strconv.Atoi(opts["version"])
		p.Snell = &model.SnellFields{PSK: opts["psk"], Version: ver}
	default:
		return model.Proxy{}, fmt.Errorf("unsupported surge proxy type: %q", typ)
	}
	if v, ok := opts["udp-relay"]; ok {
		p.UDP = model.TriFromBool(v == "true")
	}
	if v, ok := opts["tfo"]; ok {
		p.TFO = model.TriFromBool(v == "true")
	}
	if v, ok := opts["skip-cert-verify"]; ok {
		p.SkipCertVerify = model.TriFromBool(v == "true")
	}
	return p, nil
}

func strOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// splitCommaRespectingBrackets splits on top-level commas only, so an IPv6
// literal or a bracketed sub-list does not get sliced mid-token.
func splitCommaRespectingBrackets(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
