// Package socks implements the http://, https:// and socks5:// plain
// proxy URI codecs, which all share the same userinfo-auth shape.
package socks

import (
	"fmt"
	"net/url"

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

var kindByScheme = map[string]model.Kind{
	"http":   model.KindHTTP,
	"https":  model.KindHTTPS,
	"socks5": model.KindSocks5,
}

// Parse dispatches on the URI's own scheme ("http", "https" or "socks5").
func Parse(sourceURL, raw string) (model.Proxy, error) {
	scheme, _, ok := cut(raw, "://")
	if !ok {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed proxy uri", nil)
	}
	kind, ok := kindByScheme[scheme]
	if !ok {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_SCHEME_MISMATCH", "unsupported scheme: "+scheme, nil)
	}
	parts, err := common.SplitURIParts(scheme, raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed proxy uri", err)
	}
	p := model.Proxy{Kind: kind, Remark: parts.Name, Host: parts.Host, Port: parts.Port}
	if parts.User != "" {
		user, pass, _ := cut(parts.User, ":")
		p.HTTPProxy = &model.HTTPFields{Username: user, Password: pass}
	}
	if kind == model.KindHTTPS {
		p.TLS = model.TLSDescriptor{Enabled: true}
	}
	return p, nil
}

func cut(s, sep string) (string, string, bool) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

// Emit renders "<scheme>://[user:pass@]host:port[#name]".
func Emit(p model.Proxy) (string, error) {
	scheme := ""
	switch p.Kind {
	case model.KindHTTP:
		scheme = "http"
	case model.KindHTTPS:
		scheme = "https"
	case model.KindSocks5:
		scheme = "socks5"
	default:
		return "", fmt.Errorf("socks.Emit: unsupported kind %s", p.Kind)
	}
	auth := ""
	if p.HTTPProxy != nil && (p.HTTPProxy.Username != "" || p.HTTPProxy.Password != "") {
		auth = url.PathEscape(p.HTTPProxy.Username) + ":" + url.PathEscape(p.HTTPProxy.Password) + "@"
	}
	u := fmt.Sprintf("%s://%s%s:%d", scheme, auth, p.Host, p.Port)
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
