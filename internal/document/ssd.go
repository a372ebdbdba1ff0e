package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri/common"
)

// ssdDoc mirrors the SSD panel export schema: a top-level airport blob
// plus a "servers" array of per-node objects. Field names are fixed by
// the SSD ecosystem, not by us.
type ssdDoc struct {
	Airport    string    `json:"airport"`
	Port       int       `json:"port"`
	Encryption string    `json:"encryption"`
	Password   string    `json:"password"`
	Servers    []ssdNode `json:"servers"`
}

type ssdNode struct {
	ID         int    `json:"id"`
	Remarks    string `json:"remarks"`
	Server     string `json:"server"`
	Port       int    `json:"port"`
	Encryption string `json:"encryption"`
	Password   string `json:"password"`
	Plugin     string `json:"plugin"`
	PluginOpts string `json:"plugin_options"`
}

// ParseSSD decodes an SSD JSON document, which may be wrapped with an
// "ssd://" prefix + base64 body like a link, or delivered as plain JSON.
func ParseSSD(sourceURL, content string) ([]model.Proxy, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "ssd://") {
		decoded, err := common.DecodeB64ToString(strings.TrimPrefix(content, "ssd://"))
		if err != nil {
			return nil, newParseError("ssd", sourceURL, common.TruncateSnippet(content, 200), "DOC_BASE64_DECODE_ERROR", "ssd base64 decode failed", err)
		}
		content = decoded
	}

	var doc ssdDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, newParseError("ssd", sourceURL, snippet(content), "DOC_JSON_DECODE_ERROR", "ssd json decode failed", err)
	}
	if len(doc.Servers) == 0 {
		return nil, newParseError("ssd", sourceURL, "", "DOC_EMPTY", "ssd document has no servers", nil)
	}

	out := make([]model.Proxy, 0, len(doc.Servers))
	for i, n := range doc.Servers {
		cipher := n.Encryption
		if cipher == "" {
			cipher = doc.Encryption
		}
		password := n.Password
		if password == "" {
			password = doc.Password
		}
		if n.Server == "" || cipher == "" || password == "" {
			return nil, newParseError("ssd", sourceURL, fmt.Sprintf("servers[%d]", i), "DOC_PARSE_ERROR", "ssd server missing required fields", nil)
		}
		port := n.Port
		if port == 0 {
			port = doc.Port
		}
		ss := &model.ShadowsocksFields{Cipher: cipher, Password: password, PluginName: n.Plugin}
		if n.PluginOpts != "" {
			for _, seg := range strings.Split(n.PluginOpts, ";") {
				if k, v, ok := strings.Cut(seg, "="); ok {
					ss.PluginOpts = append(ss.PluginOpts, model.KV{Key: k, Value: v})
				}
			}
		}
		remark := n.Remarks
		if remark == "" {
			remark = doc.Airport
		}
		out = append(out, model.Proxy{
			Kind:   model.KindShadowsocks,
			Remark: remark,
			Host:   n.Server,
			Port:   port,
			SS:     ss,
		})
	}
	return out, nil
}
