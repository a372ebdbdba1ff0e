// Package ss implements the Shadowsocks SIP002 and legacy URI codecs.
package ss

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri/common"
)

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func newParseError(sourceURL string, snippet, code, message, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_uri",
			URL:     sourceURL,
			Snippet: snippet,
			Hint:    hint,
		},
		Cause: cause,
	}
}

// Parse accepts one "ss://..." URI (SIP002 or legacy) and returns the
// canonical node. sourceURL is carried into any ParseError for diagnostics.
func Parse(sourceURL, raw string) (model.Proxy, error) {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "ss://") {
		return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_SCHEME_MISMATCH", "expected ss:// scheme", "", nil)
	}

	withoutFrag, frag, hasFrag := strings.Cut(s, "#")
	name := ""
	if hasFrag {
		decoded, err := common.PathUnescape(frag)
		if err != nil {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "node name percent-decode failed", "", err)
		}
		name = strings.TrimSpace(decoded)
		if common.HasControlChars(name) {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "node name contains control characters", "forbidden: \\r \\n \\0", nil)
		}
	}

	withoutQuery, query, hasQuery := strings.Cut(withoutFrag, "?")
	pluginName, pluginOpts, err := parsePlugin(sourceURL, s, query, hasQuery)
	if err != nil {
		return model.Proxy{}, err
	}

	rest := strings.TrimPrefix(withoutQuery, "ss://")
	if rest == "" {
		return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "missing content after ss://", "", nil)
	}

	var host string
	var port int
	var method, password string

	if strings.Contains(rest, "@") {
		userB64, hostPart, ok := strings.Cut(rest, "@")
		if !ok || userB64 == "" || hostPart == "" {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "malformed ss uri", "", nil)
		}
		hostPort := hostPart
		if idx := strings.IndexByte(hostPort, '/'); idx >= 0 {
			if hostPort[idx:] != "/" {
				return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "ss uri path not supported (only empty or /)", "", nil)
			}
			hostPort = hostPort[:idx]
		}
		method, password, err = decodeMethodPassword(userB64)
		if err != nil {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "userinfo base64 decode failed", "", err)
		}
		host, port, err = common.ParseHostPort(hostPort)
		if err != nil {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "invalid host or port", "", err)
		}
	} else {
		decoded, err := common.DecodeB64ToString(rest)
		if err != nil {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "ss base64 decode failed", "", err)
		}
		at := strings.LastIndex(decoded, "@")
		if at < 0 {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "decoded ss uri missing '@'", "", nil)
		}
		credPart, hostPortPart := decoded[:at], decoded[at+1:]
		colon := strings.IndexByte(credPart, ':')
		if colon <= 0 {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "decoded ss uri missing cipher:password", "", nil)
		}
		method = strings.TrimSpace(credPart[:colon])
		password = strings.TrimSpace(credPart[colon+1:])
		if method == "" || password == "" {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "cipher or password empty", "", nil)
		}
		if common.HasControlChars(method) || common.HasControlChars(password) {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "cipher or password contains control characters", "", nil)
		}
		host, port, err = common.ParseHostPort(hostPortPart)
		if err != nil {
			return model.Proxy{}, newParseError(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "invalid host or port", "", err)
		}
	}

	return model.Proxy{
		Kind:   model.KindShadowsocks,
		Remark: name,
		Host:   host,
		Port:   port,
		SS: &model.ShadowsocksFields{
			Cipher:     method,
			Password:   password,
			PluginName: pluginName,
			PluginOpts: pluginOpts,
		},
	}, nil
}

func parsePlugin(sourceURL, fullLine, query string, hasQuery bool) (string, []model.KV, error) {
	if !hasQuery || query == "" {
		return "", nil, nil
	}
	var pluginValue *string
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, hasEq := strings.Cut(part, "=")
		if !hasEq {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "query parameter must be key=value", "", nil)
		}
		k, err := common.PathUnescape(kRaw)
		if err != nil {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "query parameter decode failed", "", err)
		}
		v, err := common.PathUnescape(vRaw)
		if err != nil {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "query parameter decode failed", "", err)
		}
		if k != "plugin" {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "unknown query parameter (only plugin supported)", "only allow: plugin", nil)
		}
		if pluginValue != nil {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "duplicate plugin parameter", "", nil)
		}
		pluginValue = &v
	}
	if pluginValue == nil {
		return "", nil, nil
	}
	if strings.TrimSpace(*pluginValue) == "" {
		return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "plugin parameter empty", "", nil)
	}
	segs := strings.Split(*pluginValue, ";")
	pluginName := strings.TrimSpace(segs[0])
	if pluginName == "" {
		return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "plugin name empty", "", nil)
	}
	opts := make([]model.KV, 0, len(segs)-1)
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "plugin option must be k=v", "", nil)
		}
		k = strings.TrimSpace(k)
		if k == "" {
			return "", nil, newParseError(sourceURL, common.TruncateSnippet(fullLine, 200), "URI_PARSE_ERROR", "plugin option key empty", "", nil)
		}
		opts = append(opts, model.KV{Key: k, Value: v})
	}
	return pluginName, opts, nil
}

func decodeMethodPassword(userB64 string) (string, string, error) {
	decoded, err := common.DecodeB64ToString(userB64)
	if err != nil {
		return "", "", err
	}
	colon := strings.IndexByte(decoded, ':')
	if colon <= 0 {
		return "", "", fmt.Errorf("missing ':'")
	}
	method := strings.TrimSpace(decoded[:colon])
	password := strings.TrimSpace(decoded[colon+1:])
	if method == "" || password == "" {
		return "", "", fmt.Errorf("empty method or password")
	}
	if common.HasControlChars(method) || common.HasControlChars(password) {
		return "", "", fmt.Errorf("control chars in method/password")
	}
	return method, password, nil
}

// Emit renders the canonical SIP002 form: ss://base64(method:password)@host:port[?plugin=...][#name].
func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindShadowsocks || p.SS == nil {
		return "", fmt.Errorf("ss.Emit: not a shadowsocks proxy")
	}
	if !utf8.ValidString(p.SS.Cipher) || !utf8.ValidString(p.SS.Password) {
		return "", fmt.Errorf("ss.Emit: cipher/password not valid utf-8")
	}
	userInfo := common.Base64StdNoPad(p.SS.Cipher + ":" + p.SS.Password)
	u := fmt.Sprintf("ss://%s@%s:%d", userInfo, p.Host, p.Port)
	if p.SS.PluginName != "" {
		var b strings.Builder
		b.WriteString(p.SS.PluginName)
		for _, kv := range p.SS.PluginOpts {
			b.WriteByte(';')
			b.WriteString(kv.Key)
			b.WriteByte('=')
			b.WriteString(kv.Value)
		}
		u += "?plugin=" + url.QueryEscape(b.String())
	}
	if p.Remark != "" {
		u += "#" + url.PathEscape(p.Remark)
	}
	return u, nil
}
