// Package vmess implements the vmess:// URI codec (base64 JSON payload,
// the "vmess AEAD" link format most subscription producers emit).
package vmess

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri/common"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}
func (e *ParseError) Unwrap() error { return e.Cause }

func newErr(sourceURL, snippet, code, message string, cause error) error {
	return &ParseError{AppError: model.AppError{Code: code, Message: message, Stage: "parse_uri", URL: sourceURL, Snippet: snippet}, Cause: cause}
}

// payload mirrors the de-facto vmess JSON link schema (v2rayN "vmess"
// share-link format): field names are fixed by the ecosystem, not by us.
type payload struct {
	V        string `json:"v"`
	PS       string `json:"ps"`
	Add      string `json:"add"`
	Port     any    `json:"port"`
	ID       string `json:"id"`
	Aid      any    `json:"aid"`
	Scy      string `json:"scy"`
	Security string `json:"security"`
	Net      string `json:"net"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Path     string `json:"path"`
	TLS      string `json:"tls"`
	SNI      string `json:"sni"`
	ALPN     string `json:"alpn"`
	FP       string `json:"fp"`
}

func Parse(sourceURL, raw string) (model.Proxy, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "vmess://") {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_SCHEME_MISMATCH", "expected vmess:// scheme", nil)
	}
	body := strings.TrimPrefix(s, "vmess://")
	decoded, err := common.DecodeB64ToBytes(common.RemoveSpaceTabCRLF(body))
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "vmess base64 decode failed", err)
	}
	var pl payload
	if err := json.Unmarshal(decoded, &pl); err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "vmess json decode failed", err)
	}

	id, err := uuid.Parse(strings.TrimSpace(pl.ID))
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "invalid vmess uuid", err)
	}

	port, err := asInt(pl.Port)
	if err != nil || port < 1 || port > 65535 {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "invalid vmess port", err)
	}
	alterID, _ := asInt(pl.Aid)

	security := firstNonEmpty(strings.TrimSpace(pl.Scy), strings.TrimSpace(pl.Security))
	if security == "" {
		security = "auto"
	}

	p := model.Proxy{
		Kind:   model.KindVMess,
		Remark: pl.PS,
		Host:   pl.Add,
		Port:   port,
		VMess: &model.VMessFields{
			UUID:     id.String(),
			AlterID:  alterID,
			Security: security,
		},
		Transport: buildTransport(pl),
	}
	if strings.EqualFold(pl.TLS, "tls") || strings.EqualFold(pl.TLS, "reality") {
		sni := pl.SNI
		if sni == "" {
			sni = pl.Host
		}
		p.TLS = model.TLSDescriptor{
			Enabled:     true,
			SNI:         sni,
			Fingerprint: pl.FP,
		}
		if pl.ALPN != "" {
			p.TLS.ALPN = strings.Split(pl.ALPN, ",")
		}
	}
	return p, nil
}

func buildTransport(pl payload) model.TransportDescriptor {
	net := strings.ToLower(strings.TrimSpace(pl.Net))
	switch net {
	case "ws":
		return model.TransportDescriptor{Kind: model.TransportWS, Path: pl.Path, Host: pl.Host}
	case "h2", "http":
		return model.TransportDescriptor{Kind: model.TransportH2, Path: pl.Path, Host: pl.Host}
	case "grpc":
		return model.TransportDescriptor{Kind: model.TransportGRPC, ServiceName: pl.Path}
	case "kcp":
		return model.TransportDescriptor{Kind: model.TransportKCP, HeaderType: pl.Type, Seed: pl.Path}
	case "quic":
		return model.TransportDescriptor{Kind: model.TransportQUIC, HeaderType: pl.Type}
	default:
		return model.TransportDescriptor{Kind: model.TransportTCP, HeaderType: pl.Type}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(t), nil
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// Emit renders the v2rayN-style vmess link: vmess://base64(json).
func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindVMess || p.VMess == nil {
		return "", fmt.Errorf("vmess.Emit: not a vmess proxy")
	}
	pl := payload{
		V:    "2",
		PS:   p.Remark,
		Add:  p.Host,
		Port: p.Port,
		ID:   p.VMess.UUID,
		Aid:  p.VMess.AlterID,
		Scy:  p.VMess.Security,
		Net:  string(p.Transport.Kind),
		Type: p.Transport.HeaderType,
		Host: p.Transport.Host,
		Path: p.Transport.Path,
	}
	if p.Transport.Kind == model.TransportGRPC {
		pl.Path = p.Transport.ServiceName
	}
	if p.TLS.Enabled {
		pl.TLS = "tls"
		pl.SNI = p.TLS.SNI
		pl.FP = p.TLS.Fingerprint
		pl.ALPN = strings.Join(p.TLS.ALPN, ",")
	}
	b, err := json.Marshal(pl)
	if err != nil {
		return "", err
	}
	return "vmess://" + common.Base64StdNoPad(string(b)), nil
}
