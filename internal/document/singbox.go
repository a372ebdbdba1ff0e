package document

import (
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

type singboxDoc struct {
	Outbounds []map[string]any `json:"outbounds"`
}

// ParseSingBox reads a sing-box config's "outbounds" array, skipping
// built-in selector/direct/block/dns entries that carry no server.
func ParseSingBox(sourceURL, content string) ([]model.Proxy, error) {
	var doc singboxDoc
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, newParseError("singbox", sourceURL, snippet(content), "DOC_JSON_DECODE_ERROR", "singbox json decode failed", err)
	}
	out := make([]model.Proxy, 0, len(doc.Outbounds))
	for i, o := range doc.Outbounds {
		typ, _ := o["type"].(string)
		switch typ {
		case "selector", "urltest", "direct", "block", "dns", "":
			continue
		}
		p, err := singboxOutbound(o, typ)
		if err != nil {
			return nil, newParseError("singbox", sourceURL, fmt.Sprintf("outbounds[%d]", i), "DOC_PARSE_ERROR", "invalid singbox outbound", err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, newParseError("singbox", sourceURL, "", "DOC_EMPTY", "singbox config has no server outbounds", nil)
	}
	return out, nil
}

func singboxOutbound(o map[string]any, typ string) (model.Proxy, error) {
	p := model.Proxy{
		Remark: str(o["tag"]),
		Host:   str(o["server"]),
		Port:   anyToInt(o["server_port"]),
	}
	switch typ {
	case "shadowsocks":
		p.Kind = model.KindShadowsocks
		p.SS = &model.ShadowsocksFields{Cipher: str(o["method"]), Password: str(o["password"])}
	case "vmess":
		p.Kind = model.KindVMess
		p.VMess = &model.VMessFields{UUID: str(o["uuid"]), AlterID: anyToInt(o["alter_id"]), Security: strOr(o["security"], "auto")}
		p.TLS = singboxTLS(o)
	case "vless":
		p.Kind = model.KindVLESS
		p.VLESS = &model.VLESSFields{UUID: str(o["uuid"]), Flow: str(o["flow"])}
		p.TLS = singboxTLS(o)
	case "trojan":
		p.Kind = model.KindTrojan
		p.Trojan = &model.TrojanFields{Password: str(o["password"])}
		p.TLS = singboxTLS(o)
		p.TLS.Enabled = true
	case "hysteria2":
		p.Kind = model.KindHysteria2
		p.Hysteria = &model.HysteriaFields{Password: str(o["password"])}
		p.TLS = singboxTLS(o)
		p.TLS.Enabled = true
	case "wireguard":
		p.Kind = model.KindWireGuard
		p.WireGuard = &model.WireGuardFields{PrivateKey: str(o["private_key"])}
	default:
		return model.Proxy{}, fmt.Errorf("unsupported singbox outbound type: %q", typ)
	}
	return p, nil
}

func singboxTLS(o map[string]any) model.TLSDescriptor {
	tls, _ := o["tls"].(map[string]any)
	if tls == nil {
		return model.TLSDescriptor{}
	}
	return model.TLSDescriptor{
		Enabled:        boolOr(tls["enabled"], false),
		SNI:            str(tls["server_name"]),
		SkipCertVerify: boolOr(tls["insecure"], false),
	}
}
