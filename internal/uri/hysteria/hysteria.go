// Package hysteria implements the hysteria:// (v1) and hysteria2:// (aka
// hy2://) URI codecs.
package hysteria

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

// ParseV1 parses "hysteria://host:port?auth=&peer=&upmbps=&downmbps=&obfs=#name".
func ParseV1(sourceURL, raw string) (model.Proxy, error) {
	parts, err := common.SplitURIParts("hysteria", raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed hysteria uri", err)
	}
	q := parts.Query
	return model.Proxy{
		Kind:   model.KindHysteria,
		Remark: parts.Name,
		Host:   parts.Host,
		Port:   parts.Port,
		Hysteria: &model.HysteriaFields{
			Auth:     q["auth"],
			Obfs:     q["obfs"],
			Up:       q["upmbps"],
			Down:     q["downmbps"],
			Protocol: "udp",
		},
		TLS: model.TLSDescriptor{Enabled: true, SNI: q["peer"], ALPN: splitNonEmpty(q["alpn"])},
	}, nil
}

// ParseV2 parses "hysteria2://[auth@]host:port?obfs=&sni=&insecure=&alpn=#name"
// (hy2:// is an accepted alias handled by the caller). An obfs-password
// parameter is not read.
func ParseV2(sourceURL, raw string) (model.Proxy, error) {
	parts, err := common.SplitURIParts("hysteria2", raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed hysteria2 uri", err)
	}
	q := parts.Query
	return model.Proxy{
		Kind:   model.KindHysteria2,
		Remark: parts.Name,
		Host:   parts.Host,
		Port:   parts.Port,
		Hysteria: &model.HysteriaFields{
			Password: parts.User,
			Obfs:     q["obfs"],
		},
		TLS: model.TLSDescriptor{
			Enabled:        true,
			SNI:            q["sni"],
			SkipCertVerify: q["insecure"] == "1",
			ALPN:           splitNonEmpty(q["alpn"]),
		},
	}, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func EmitV1(p model.Proxy) (string, error) {
	if p.Kind != model.KindHysteria || p.Hysteria == nil {
		return "", fmt.Errorf("hysteria.EmitV1: not a hysteria proxy")
	}
	q := url.Values{}
	if p.Hysteria.Auth != "" {
		q.Set("auth", p.Hysteria.Auth)
	}
	if p.TLS.SNI != "" {
		q.Set("peer", p.TLS.SNI)
	}
	if p.Hysteria.Up != "" {
		q.Set("upmbps", p.Hysteria.Up)
	}
	if p.Hysteria.Down != "" {
		q.Set("downmbps", p.Hysteria.Down)
	}
	if p.Hysteria.Obfs != "" {
		q.Set("obfs", p.Hysteria.Obfs)
	}
	u := fmt.Sprintf("hysteria://%s:%d?%s", p.Host, p.Port, q.Encode())
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}

func EmitV2(p model.Proxy) (string, error) {
	if p.Kind != model.KindHysteria2 || p.Hysteria == nil {
		return "", fmt.Errorf("hysteria.EmitV2: not a hysteria2 proxy")
	}
	q := url.Values{}
	if p.Hysteria.Obfs != "" {
		q.Set("obfs", p.Hysteria.Obfs)
	}
	if p.TLS.SNI != "" {
		q.Set("sni", p.TLS.SNI)
	}
	if p.TLS.SkipCertVerify {
		q.Set("insecure", "1")
	}
	u := fmt.Sprintf("hysteria2://%s@%s:%d", url.PathEscape(p.Hysteria.Password), p.Host, p.Port)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
