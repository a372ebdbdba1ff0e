// Package ssr implements the ssr:// URI codec (ShadowsocksR link format:
// base64(host:port:protocol:method:obfs:base64(password)/?params)).
package ssr

import (
	"fmt"
	"strconv"
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
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "ssr://") {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_SCHEME_MISMATCH", "expected ssr:// scheme", nil)
	}
	body := strings.TrimPrefix(s, "ssr://")
	decoded, err := common.DecodeB64ToString(common.RemoveSpaceTabCRLF(body))
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "ssr base64 decode failed", err)
	}

	main, paramStr, hasParams := strings.Cut(decoded, "/?")
	fields := strings.SplitN(main, ":", 6)
	if len(fields) != 6 {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "ssr main segment malformed", nil)
	}
	host := fields[0]
	port, err := strconv.Atoi(fields[1])
	if err != nil || port < 1 || port > 65535 {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "invalid ssr port", err)
	}
	protocol, method, obfs := fields[2], fields[3], fields[4]
	password, err := common.DecodeB64ToString(fields[5])
	if err != nil {
		return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "ssr password base64 decode failed", err)
	}

	ssr := &model.ShadowsocksRFields{
		Cipher:   method,
		Password: password,
		Protocol: protocol,
		Obfs:     obfs,
	}
	remark := ""
	if hasParams {
		params, err := common.ParseQueryParams(paramStr)
		if err != nil {
			return model.Proxy{}, newErr(sourceURL, common.TruncateSnippet(s, 200), "URI_PARSE_ERROR", "ssr params malformed", err)
		}
		for _, kv := range params {
			switch kv.Key {
			case "obfsparam":
				if v, err := common.DecodeB64ToString(kv.Value); err == nil {
					ssr.ObfsParam = v
				}
			case "protoparam":
				if v, err := common.DecodeB64ToString(kv.Value); err == nil {
					ssr.ProtocolParam = v
				}
			case "remarks":
				if v, err := common.DecodeB64ToString(kv.Value); err == nil {
					remark = v
				}
			case "group":
				if v, err := common.DecodeB64ToString(kv.Value); err == nil {
					ssr.Extra = append(ssr.Extra, model.KV{Key: "group", Value: v})
				}
			default:
				ssr.Extra = append(ssr.Extra, model.KV{Key: kv.Key, Value: kv.Value})
			}
		}
	}

	return model.Proxy{
		Kind:   model.KindShadowsocksR,
		Remark: remark,
		Host:   host,
		Port:   port,
		SSR:    ssr,
	}, nil
}

func Emit(p model.Proxy) (string, error) {
	if p.Kind != model.KindShadowsocksR || p.SSR == nil {
		return "", fmt.Errorf("ssr.Emit: not a shadowsocksr proxy")
	}
	main := fmt.Sprintf("%s:%d:%s:%s:%s:%s", p.Host, p.Port, p.SSR.Protocol, p.SSR.Cipher, p.SSR.Obfs, common.Base64StdNoPad(p.SSR.Password))
	var params []string
	if p.SSR.ObfsParam != "" {
		params = append(params, "obfsparam="+common.Base64StdNoPad(p.SSR.ObfsParam))
	}
	if p.SSR.ProtocolParam != "" {
		params = append(params, "protoparam="+common.Base64StdNoPad(p.SSR.ProtocolParam))
	}
	if p.Remark != "" {
		params = append(params, "remarks="+common.Base64StdNoPad(p.Remark))
	}
	for _, kv := range p.SSR.Extra {
		params = append(params, kv.Key+"="+kv.Value)
	}
	full := main
	if len(params) > 0 {
		full += "/?" + strings.Join(params, "&")
	}
	return "ssr://" + common.Base64StdNoPad(full), nil
}
