package render

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
)

func yamlDQ(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}

// parseSSObfsPlugin validates and extracts the simple-obfs/obfs-local
// plugin options this module supports, per spec.md §4.1.
func parseSSObfsPlugin(p model.Proxy) (mode string, host string, err error) {
	if p.SS == nil || p.SS.PluginName == "" {
		return "", "", nil
	}
	if p.SS.PluginName != "simple-obfs" && p.SS.PluginName != "obfs-local" {
		return "", "", &RenderError{AppError: model.AppError{
			Code: "UNSUPPORTED_PLUGIN", Message: fmt.Sprintf("不支持的 SS plugin：%s", p.SS.PluginName),
			Stage: "render", Snippet: p.SS.PluginName,
		}}
	}
	for _, kv := range p.SS.PluginOpts {
		switch strings.TrimSpace(kv.Key) {
		case "obfs":
			mode = strings.TrimSpace(kv.Value)
		case "obfs-host":
			host = strings.TrimSpace(kv.Value)
		}
	}
	if mode == "" {
		return "", "", &RenderError{AppError: model.AppError{
			Code: "UNSUPPORTED_PLUGIN", Message: "simple-obfs/obfs-local 缺少必需选项 obfs=<mode>",
			Stage: "render", Snippet: p.SS.PluginName, Hint: "example: ?plugin=simple-obfs;obfs=tls;obfs-host=example.com",
		}}
	}
	return mode, host, nil
}

// ruleLine renders a rule's TYPE,VALUE,ACTION line for dialects that
// spell MATCH/IP-CIDR6/no-resolve the way Clash does. typ/final let callers
// override the per-target spelling (Surge's FINAL, QuanX's IP6-CIDR).
func ruleLine(r model.Rule, typ string, final string, action string) string {
	if r.Type == model.RuleMatch {
		return fmt.Sprintf("%s,%s", final, action)
	}
	if (r.Type == model.RuleIPCIDR || r.Type == model.RuleIPCIDR6) && r.NoResolve {
		return fmt.Sprintf("%s,%s,%s,no-resolve", typ, r.Value, action)
	}
	return fmt.Sprintf("%s,%s,%s", typ, r.Value, action)
}

func kindSkipReason(target Target, kind model.Kind) string {
	return fmt.Sprintf("%s does not support %s nodes", target, kind)
}

// checkRuleType fails fast when a rule TYPE is outside target's allow-list
// (e.g. USER-AGENT on a dialect with no such match condition), rather than
// emitting a line the client cannot parse.
func checkRuleType(target Target, r model.Rule) error {
	allowed := AllowedRuleTypes(target)
	if allowed == nil {
		return nil
	}
	if _, ok := allowed[r.Type]; !ok {
		return &RenderError{AppError: model.AppError{
			Code: "UNSUPPORTED_RULE_TYPE", Message: fmt.Sprintf("%s 不支持规则类型 %s", target, r.Type),
			Stage: "render", Snippet: string(r.Type),
		}}
	}
	return nil
}
