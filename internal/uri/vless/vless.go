// Package vless implements the vless:// URI codec.
package vless

import (
	"fmt"
	"net/url"
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

func Parse(sourceURL, raw string) (model.Proxy, error) {
	parts, err := common.SplitURIParts("vless", raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed vless uri", err)
	}
	id, err := uuid.Parse(parts.User)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "invalid vless uuid", err)
	}

	q := parts.Query
	flow := q["flow"]
	// sing-box/Xray normalize the legacy vision variant name on ingest.
	if flow == "xtls-rprx-vision-udp443" {
		flow = "xtls-rprx-vision"
	}

	p := model.Proxy{
		Kind:      model.KindVLESS,
		Remark:    parts.Name,
		Host:      parts.Host,
		Port:      parts.Port,
		VLESS:     &model.VLESSFields{UUID: id.String(), Flow: flow},
		Transport: buildTransport(q),
	}
	if strings.EqualFold(q["security"], "tls") || strings.EqualFold(q["security"], "reality") {
		p.TLS = model.TLSDescriptor{
			Enabled:     true,
			SNI:         q["sni"],
			Fingerprint: q["fp"],
		}
		if alpn := q["alpn"]; alpn != "" {
			p.TLS.ALPN = strings.Split(alpn, ",")
		}
		if strings.EqualFold(q["security"], "reality") {
			p.TLS.Reality = &model.RealityDescriptor{
				PublicKey: q["pbk"],
				ShortID:   q["sid"],
				SpiderX:   q["spx"],
			}
		}
	}
	return p, nil
}

func buildTransport(q map[string]string) model.TransportDescriptor {
	switch strings.ToLower(q["type"]) {
	case "ws":
		return model.TransportDescriptor{Kind: model.TransportWS, Path: q["path"], Host: q["host"]}
	case "grpc":
		return model.TransportDescriptor{Kind: model.TransportGRPC, ServiceName: q["serviceName"]}
	case "http", "h2":
		return model.TransportDescriptor{Kind: model.TransportH2, Path: q["path"], Host: q["host"]}
	default:
		return model.TransportDescriptor{Kind: model.TransportTCP}
	}
}

// Emit renders "vless://uuid@host:port?query#name".
func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindVLESS || p.VLESS == nil {
		return "", fmt.Errorf("vless.Emit: not a vless proxy")
	}
	q := url.Values{}
	if p.VLESS.Flow != "" {
		q.Set("flow", p.VLESS.Flow)
	}
	switch p.Transport.Kind {
	case model.TransportWS:
		q.Set("type", "ws")
		if p.Transport.Path != "" {
			q.Set("path", p.Transport.Path)
		}
		if p.Transport.Host != "" {
			q.Set("host", p.Transport.Host)
		}
	case model.TransportGRPC:
		q.Set("type", "grpc")
		if p.Transport.ServiceName != "" {
			q.Set("serviceName", p.Transport.ServiceName)
		}
	case model.TransportH2:
		q.Set("type", "http")
		if p.Transport.Path != "" {
			q.Set("path", p.Transport.Path)
		}
		if p.Transport.Host != "" {
			q.Set("host", p.Transport.Host)
		}
	}
	if p.TLS.Enabled {
		if p.TLS.Reality != nil {
			q.Set("security", "reality")
			q.Set("pbk", p.TLS.Reality.PublicKey)
			q.Set("sid", p.TLS.Reality.ShortID)
			if p.TLS.Reality.SpiderX != "" {
				q.Set("spx", p.TLS.Reality.SpiderX)
			}
		} else {
			q.Set("security", "tls")
		}
		if p.TLS.SNI != "" {
			q.Set("sni", p.TLS.SNI)
		}
		if p.TLS.Fingerprint != "" {
			q.Set("fp", p.TLS.Fingerprint)
		}
		if len(p.TLS.ALPN) > 0 {
			q.Set("alpn", strings.Join(p.TLS.ALPN, ","))
		}
	}
	u := fmt.Sprintf("vless://%s@%s:%d", p.VLESS.UUID, p.Host, p.Port)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
