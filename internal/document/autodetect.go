package document

import (
	"encoding/json"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri/common"
)

// Detect runs the fixed 5-step probe order and returns the first format
// that parses successfully. The order never changes: several formats share
// surface syntax (an INI line can look like a bare key=value pair; a
// base64 blob can decode to something that also looks like a link list),
// so reordering this list would silently reclassify real subscriptions.
func Detect(sourceURL, content string) ([]model.Proxy, error) {
	trimmed := strings.TrimSpace(common.StripUTF8BOM(content))
	if trimmed == "" {
		return nil, newParseError("autodetect", sourceURL, "", "DOC_EMPTY", "document is empty", nil)
	}

	if looksLikeClash(trimmed) {
		if out, err := ParseClash(sourceURL, content); err == nil {
			return out, nil
		}
	}

	if strings.HasPrefix(trimmed, "{") {
		if out, err := parseJSONDocument(sourceURL, content, trimmed); err == nil {
			return out, nil
		}
	}

	switch iniFlavor(trimmed) {
	case "quanx":
		if out, err := ParseQuanXServerList(sourceURL, content); err == nil {
			return out, nil
		}
	case "surge":
		if out, err := ParseSurgeProxyList(sourceURL, content); err == nil {
			return out, nil
		}
	}

	if out, err := ParseBase64List(sourceURL, content); err == nil {
		return out, nil
	}

	if out, err := ParseLinkList(sourceURL, content); err == nil {
		return out, nil
	}

	return nil, newParseError("autodetect", sourceURL, common.TruncateSnippet(trimmed, 200), "DOC_UNRECOGNIZED", "could not detect subscription document format", nil)
}

func looksLikeClash(trimmed string) bool {
	if strings.HasPrefix(trimmed, "proxies:") {
		return true
	}
	for _, line := range strings.SplitN(trimmed, "\n", 200) {
		if strings.HasPrefix(strings.TrimSpace(line), "proxies:") {
			return true
		}
	}
	return false
}

func parseJSONDocument(sourceURL, content, trimmed string) ([]model.Proxy, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return nil, err
	}
	if _, ok := probe["outbounds"]; ok {
		return ParseSingBox(sourceURL, content)
	}
	if _, ok := probe["airport"]; ok {
		return ParseSSD(sourceURL, content)
	}
	if _, hasServers := probe["servers"]; hasServers {
		if _, hasVersion := probe["version"]; hasVersion {
			return ParseSIP008(sourceURL, content)
		}
		return ParseSSD(sourceURL, content)
	}
	return nil, newParseError("autodetect", sourceURL, common.TruncateSnippet(trimmed, 200), "DOC_UNRECOGNIZED", "json document matches no known schema", nil)
}

// iniFlavor distinguishes Quantumult X's "[server_local]" section from the
// Surge/Loon "[Proxy]" section; both are otherwise the same INI-like
// tokenizer surface.
func iniFlavor(trimmed string) string {
	sawServerLocal, sawProxy := false, false
	for _, raw := range strings.Split(trimmed, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		switch {
		case strings.EqualFold(line, "[server_local]"):
			sawServerLocal = true
		case strings.EqualFold(line, "[Proxy]"), strings.EqualFold(line, "[Proxy Group]"), strings.EqualFold(line, "[Rule]"):
			sawProxy = true
		}
	}
	switch {
	case sawServerLocal:
		return "quanx"
	case sawProxy:
		return "surge"
	default:
		return ""
	}
}
