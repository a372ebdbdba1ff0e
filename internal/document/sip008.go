package document

import (
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

// sip008Doc implements the SIP008 Online Config Delivery JSON schema
// (shadowsocks-org SIP008): a version tag plus a flat "servers" array.
type sip008Doc struct {
	Version int          `json:"version"`
	Servers []sip008Node `json:"servers"`
}

type sip008Node struct {
	ID         string `json:"id"`
	Remarks    string `json:"remarks"`
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`
	Password   string `json:"password"`
	Method     string `json:"method"`
	Plugin     string `json:"plugin"`
	PluginOpts string `json:"plugin_opts"`
}

func ParseSIP008(sourceURL, content string) ([]model.Proxy, error) {
	var doc sip008Doc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, newParseError("sip008", sourceURL, snippet(content), "DOC_JSON_DECODE_ERROR", "sip008 json decode failed", err)
	}
	if len(doc.Servers) == 0 {
		return nil, newParseError("sip008", sourceURL, "", "DOC_EMPTY", "sip008 document has no servers", nil)
	}
	out := make([]model.Proxy, 0, len(doc.Servers))
	for i, n := range doc.Servers {
		if n.Server == "" || n.Method == "" || n.Password == "" {
			return nil, newParseError("sip008", sourceURL, fmt.Sprintf("servers[%d]", i), "DOC_PARSE_ERROR", "sip008 server missing required fields", nil)
		}
		ss := &model.ShadowsocksFields{Cipher: n.Method, Password: n.Password, PluginName: n.Plugin}
		if n.PluginOpts != "" {
			for _, seg := range splitSemicolon(n.PluginOpts) {
				if k, v, ok := cutEqual(seg); ok {
					ss.PluginOpts = append(ss.PluginOpts, model.KV{Key: k, Value: v})
				}
			}
		}
		out = append(out, model.Proxy{
			Kind:   model.KindShadowsocks,
			Remark: n.Remarks,
			Host:   n.Server,
			Port:   n.ServerPort,
			SS:     ss,
		})
	}
	return out, nil
}

func splitSemicolon(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func cutEqual(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
