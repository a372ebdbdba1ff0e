package document

import (
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/uri"
	"github.com/John-Robertt/subconverter-go/internal/uri/common"
)

// ParseBase64List decodes a base64-wrapped newline list of proxy links,
// the legacy "subscription" format most panels still emit by default.
func ParseBase64List(sourceURL, content string) ([]model.Proxy, error) {
	decoded, err := common.DecodeB64ToString(common.RemoveSpaceTabCRLF(content))
	if err != nil {
		return nil, newParseError("base64list", sourceURL, common.TruncateSnippet(content, 200), "DOC_BASE64_DECODE_ERROR", "base64 list decode failed", err)
	}
	return ParseLinkList(sourceURL, decoded)
}

// ParseLinkList parses one proxy link per non-empty, non-comment line.
func ParseLinkList(sourceURL, content string) ([]model.Proxy, error) {
	content = common.StripUTF8BOM(content)
	lines := strings.Split(content, "\n")
	out := make([]model.Proxy, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(strings.TrimSpace(line), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := uri.Parse(sourceURL, line)
		if err != nil {
			return nil, newParseError("linklist", sourceURL, common.TruncateSnippet(line, 200), "DOC_PARSE_ERROR", "invalid proxy link", err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, newParseError("base64list", sourceURL, "", "DOC_EMPTY", "link list contains no usable node", nil)
	}
	return out, nil
}
