// Package uri dispatches a single proxy link to the codec matching its
// scheme, mirroring the scheme-prefix switch every pack link-parser uses.
package uri

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri/hysteria"
	"github.com/John-Robertt/subconverter-go/internal/uri/snell"
	"github.com/John-Robertt/subconverter-go/internal/uri/socks"
	"github.com/John-Robertt/subconverter-go/internal/uri/ss"
	"github.com/John-Robertt/subconverter-go/internal/uri/ssr"
	"github.com/John-Robertt/subconverter-go/internal/uri/trojan"
	"github.com/John-Robertt/subconverter-go/internal/uri/vless"
	"github.com/John-Robertt/subconverter-go/internal/uri/vmess"
	"github.com/John-Robertt/subconverter-go/internal/uri/wireguard"
)

// Scheme returns the lowercase scheme prefix of a link line, or "" if none.
func Scheme(line string) string {
	idx := strings.Index(line, "://")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(line[:idx])
}

// Parse dispatches raw to the codec matching its scheme. sourceURL is
// carried into the returned error for diagnostics only.
func Parse(sourceURL, raw string) (model.Proxy, error) {
	switch Scheme(raw) {
	case "ss":
		return ss.Parse(sourceURL, raw)
	case "ssr":
		return ssr.Parse(sourceURL, raw)
	case "vmess":
		return vmess.Parse(sourceURL, raw)
	case "vless":
		return vless.Parse(sourceURL, raw)
	case "trojan":
		return trojan.Parse(sourceURL, raw)
	case "hysteria":
		return hysteria.ParseV1(sourceURL, raw)
	case "hysteria2", "hy2":
		return hysteria.ParseV2(sourceURL, strings.Replace(raw, "hy2://", "hysteria2://", 1))
	case "socks5", "http", "https":
		return socks.Parse(sourceURL, raw)
	case "wg":
		return wireguard.Parse(sourceURL, raw)
	case "wireguard":
		return wireguard.Parse(sourceURL, strings.Replace(raw, "wireguard://", "wg://", 1))
	case "snell":
		return snell.Parse(sourceURL, raw)
	default:
		return model.Proxy{}, &UnsupportedSchemeError{AppError: model.AppError{
			Code:    "URI_SCHEME_MISMATCH",
			Message: fmt.Sprintf("unsupported or missing uri scheme: %q", Scheme(raw)),
			Stage:   "parse_uri",
			URL:     sourceURL,
		}}
	}
}

// UnsupportedSchemeError is returned when a line's scheme matches none of
// the registered codecs.
type UnsupportedSchemeError struct {
	AppError model.AppError
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
}

// Emit dispatches a Proxy to the codec matching its Kind.
func Emit(p model.Proxy) (string, error) {
	switch p.Kind {
	case model.KindShadowsocks:
		return ss.Emit(p)
	case model.KindShadowsocksR:
		return ssr.Emit(p)
	case model.KindVMess:
		return vmess.Emit(p)
	case model.KindVLESS:
		return vless.Emit(p)
	case model.KindTrojan:
		return trojan.Emit(p)
	case model.KindHysteria:
		return hysteria.EmitV1(p)
	case model.KindHysteria2:
		return hysteria.EmitV2(p)
	case model.KindHTTP, model.KindHTTPS, model.KindSocks5:
		return socks.Emit(p)
	case model.KindWireGuard:
		return wireguard.Emit(p)
	case model.KindSnell:
		return snell.Emit(p)
	default:
		return "", fmt.Errorf("uri.Emit: unsupported kind %s", p.Kind)
	}
}
