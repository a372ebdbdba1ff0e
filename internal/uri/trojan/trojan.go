// Package trojan implements the trojan:// URI codec.
package trojan

import (
	"fmt"
	"net/url"
	"strings"

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
	parts, err := common.SplitURIParts("trojan", raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed trojan uri", err)
	}
	if parts.User == "" {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "trojan uri missing password", nil)
	}
	q := parts.Query
	p := model.Proxy{
		Kind:   model.KindTrojan,
		Remark: parts.Name,
		Host:   parts.Host,
		Port:   parts.Port,
		Trojan: &model.TrojanFields{Password: parts.User},
		TLS: model.TLSDescriptor{
			Enabled:        true, // trojan implies TLS by definition
			SNI:            q["sni"],
			Fingerprint:    q["fp"],
			SkipCertVerify: q["allowInsecure"] == "1" || strings.EqualFold(q["allowInsecure"], "true"),
		},
	}
	if alpn := q["alpn"]; alpn != "" {
		p.TLS.ALPN = strings.Split(alpn, ",")
	}
	switch strings.ToLower(q["type"]) {
	case "ws":
		p.Transport = model.TransportDescriptor{Kind: model.TransportWS, Path: q["path"], Host: q["host"]}
	case "grpc":
		p.Transport = model.TransportDescriptor{Kind: model.TransportGRPC, ServiceName: q["serviceName"]}
	default:
		p.Transport = model.TransportDescriptor{Kind: model.TransportTCP}
	}
	return p, nil
}

// Emit renders "trojan://password@host:port?query#name".
func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindTrojan || p.Trojan == nil {
		return "", fmt.Errorf("trojan.Emit: not a trojan proxy")
	}
	q := url.Values{}
	if p.TLS.SNI != "" {
		q.Set("sni", p.TLS.SNI)
	}
	if p.TLS.Fingerprint != "" {
		q.Set("fp", p.TLS.Fingerprint)
	}
	if p.TLS.SkipCertVerify {
		q.Set("allowInsecure", "1")
	}
	if len(p.TLS.ALPN) > 0 {
		q.Set("alpn", strings.Join(p.TLS.ALPN, ","))
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
	}
	u := fmt.Sprintf("trojan://%s@%s:%d", url.PathEscape(p.Trojan.Password), p.Host, p.Port)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
