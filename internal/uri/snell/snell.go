// Package snell implements the snell:// URI codec. Snell has no official
// URI scheme; this follows the de-facto form several subscription
// generators emit: snell://psk@host:port?version=&obfs=&obfs-host=#name.
package snell

import (
	"fmt"
	"net/url"
	"strconv"

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
	parts, err := common.SplitURIParts("snell", raw)
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "malformed snell uri", err)
	}
	if parts.User == "" {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(raw, 200), "URI_PARSE_ERROR", "snell uri missing psk", nil)
	}
	version := 4
	if v := parts.Query["version"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			version = n
		}
	}
	p := model.Proxy{
		Kind:   model.KindSnell,
		Remark: parts.Name,
		Host:   parts.Host,
		Port:   parts.Port,
		Snell:  &model.SnellFields{PSK: parts.User, Version: version},
	}
	if obfs := parts.Query["obfs"]; obfs != "" {
		p.Transport = model.TransportDescriptor{Kind: model.TransportHTTP, Host: parts.Query["obfs-host"]}
	}
	return p, nil
}

func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindSnell || p.Snell == nil {
		return "", fmt.Errorf("snell.Emit: not a snell proxy")
	}
	q := url.Values{}
	q.Set("version", strconv.Itoa(p.Snell.Version))
	if p.Transport.Host != "" {
		q.Set("obfs", "http")
		q.Set("obfs-host", p.Transport.Host)
	}
	u := fmt.Sprintf("snell://%s@%s:%d?%s", url.PathEscape(p.Snell.PSK), p.Host, p.Port, q.Encode())
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
