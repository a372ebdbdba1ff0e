package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

// ParseQuanXServerList reads Quantumult X's "[server_local]" section:
// "shadowsocks = host:port, method=..., password=..., tag=name".
func ParseQuanXServerList(sourceURL, content string) ([]model.Proxy, error) {
	lines := quanxSectionLines(content)
	if len(lines) == 0 {
		return nil, newParseError("quanx", sourceURL, "", "DOC_EMPTY", "no [server_local] section found", nil)
	}
	out := make([]model.Proxy, 0, len(lines))
	for i, line := range lines {
		p, err := parseQuanXLine(line)
		if err != nil {
			return nil, newParseError("quanx", sourceURL, fmt.Sprintf("line %d: %s", i+1, snippet(line)), "DOC_PARSE_ERROR", "invalid quantumult x server line", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func quanxSectionLines(content string) []string {
	var out []string
	inSection := false
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = strings.EqualFold(line, "[server_local]")
			continue
		}
		if inSection {
			out = append(out, line)
		}
	}
	return out
}

func parseQuanXLine(line string) (model.Proxy, error) {
	typ, rest, ok := strings.Cut(line, "=")
	if !ok {
		return model.Proxy{}, fmt.Errorf("missing '='")
	}
	typ = strings.TrimSpace(typ)
	fields := splitCommaRespectingBrackets(rest)
	if len(fields) < 1 {
		return model.Proxy{}, fmt.Errorf("missing host:port")
	}
	hostPort := strings.TrimSpace(fields[0])
	host, portStr, ok := strings.Cut(hostPort, ":")
	if !ok {
		return model.Proxy{}, fmt.Errorf("expected host:port")
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return model.Proxy{}, fmt.Errorf("invalid port: %w", err)
	}
	opts := map[string]string{}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(strings.TrimSpace(f), "="); ok {
			opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	p := model.Proxy{Remark: opts["tag"], Host: host, Port: port}
	switch strings.ToLower(typ) {
	case "shadowsocks":
		p.Kind = model.KindShadowsocks
		p.SS = &model.ShadowsocksFields{Cipher: opts["method"], Password: opts["password"]}
		if obfs := opts["obfs"]; obfs != "" {
			p.SS.PluginName = "simple-obfs"
			p.SS.PluginOpts = []model.KV{{Key: "obfs", Value: obfs}, {Key: "obfs-host", Value: opts["obfs-host"]}}
		}
	case "vmess":
		p.Kind = model.KindVMess
		p.VMess = &model.VMessFields{UUID: opts["password"], Security: "auto"}
		p.TLS.Enabled = opts["obfs"] == "wss" || opts["obfs"] == "over-tls" || opts["tls-verification"] != ""
	case "trojan":
		p.Kind = model.KindTrojan
		p.Trojan = &model.TrojanFields{Password: opts["password"]}
		p.TLS.Enabled = true
	case "http":
		p.Kind = model.KindHTTP
		if opts["over-tls"] == "true" {
			p.Kind = model.KindHTTPS
			p.TLS.Enabled = true
		}
		p.HTTPProxy = &model.HTTPFields{Username: opts["username"], Password: opts["password"]}
	default:
		return model.Proxy{}, fmt.Errorf("unsupported quantumult x server type: %q", typ)
	}
	return p, nil
}
