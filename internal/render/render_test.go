package render

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/model"
)

func ssProxy(remark, host string, port int) model.Proxy {
	return model.Proxy{
		Kind: model.KindShadowsocks, Remark: remark, Host: host, Port: port,
		SS: &model.ShadowsocksFields{Cipher: "aes-128-gcm", Password: "123"},
	}
}

func TestRender_Clash_PasswordQuotedAndPlugin(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	n1.SS.PluginName = "simple-obfs"
	n1.SS.PluginOpts = []model.KV{{Key: "obfs", Value: "tls"}, {Key: "obfs-host", Value: "example.com"}}

	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups: []model.Group{
			{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"n1", "DIRECT"}},
		},
		Rules: []model.Rule{
			{Type: model.RuleMatch, Action: "PROXY"},
		},
	}

	blocks, diag, err := Render(TargetClash, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diag.Skipped) != 0 {
		t.Fatalf("expected no skips, got %v", diag.Skipped)
	}
	if !strings.Contains(blocks.Proxies, `password: "123"`) {
		t.Fatalf("password should be quoted, got:\n%s", blocks.Proxies)
	}
	if !strings.Contains(blocks.Proxies, "plugin: obfs") {
		t.Fatalf("plugin missing, got:\n%s", blocks.Proxies)
	}
	if !strings.Contains(blocks.Proxies, "plugin-opts:") || !strings.Contains(blocks.Proxies, "mode:") {
		t.Fatalf("plugin-opts missing, got:\n%s", blocks.Proxies)
	}
}

func TestRender_Clash_UnsupportedPlugin(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	n1.SS.PluginName = "v2ray-plugin"

	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups:  []model.Group{{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"n1"}}},
		Rules:   []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}

	_, _, err := Render(TargetClash, res)
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T: %v", err, err)
	}
	if re.AppError.Code != "UNSUPPORTED_PLUGIN" {
		t.Fatalf("code=%q, want=%q", re.AppError.Code, "UNSUPPORTED_PLUGIN")
	}
}

func TestRender_Clash_SkipsUnsupportedKind(t *testing.T) {
	h1 := model.Proxy{
		Kind: model.KindHysteria, Remark: "h1", Host: "example.com", Port: 443,
		Hysteria: &model.HysteriaFields{Auth: "secret", Protocol: "udp"},
	}
	n1 := ssProxy("n1", "example.com", 8388)

	res := &compiler.Result{
		Proxies: []model.Proxy{n1, h1},
		Groups:  []model.Group{{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"n1", "h1"}}},
		Rules:   []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}

	blocks, diag, err := Render(TargetClash, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diag.Skipped) != 1 || diag.Skipped[0].Remark != "h1" {
		t.Fatalf("expected h1 to be skipped, got %v", diag.Skipped)
	}
	if strings.Contains(blocks.Proxies, "h1") {
		t.Fatalf("skipped node should not appear in output, got:\n%s", blocks.Proxies)
	}
}

func TestRender_SurgeLike_ProxyCommaQuotedAndReferenced(t *testing.T) {
	n1 := ssProxy("a,b", "example.com", 8388)

	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups: []model.Group{
			{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"a,b", "DIRECT"}},
		},
		Rules: []model.Rule{
			{Type: model.RuleMatch, Action: "PROXY"},
		},
	}

	blocks, _, err := Render(TargetSurge, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(blocks.Proxies, `"a,b" = ss, example.com, 8388`) {
		t.Fatalf("proxy name should be quoted, got:\n%s", blocks.Proxies)
	}
	if !strings.Contains(blocks.Groups, `PROXY = select, "a,b", DIRECT`) {
		t.Fatalf("group member should reference quoted name, got:\n%s", blocks.Groups)
	}
}

func TestRender_SurgeLike_GroupNameInvalid(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)

	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups: []model.Group{
			{Name: "A,B", Type: model.GroupSelect, ResolvedMembers: []string{"n1"}},
		},
		Rules: []model.Rule{{Type: model.RuleMatch, Action: "A,B"}},
	}
	_, _, err := Render(TargetSurge, res)
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T: %v", err, err)
	}
	if re.AppError.Code != "PROFILE_VALIDATE_ERROR" {
		t.Fatalf("code=%q, want=%q", re.AppError.Code, "PROFILE_VALIDATE_ERROR")
	}
}

func TestRender_Shadowrocket_AllowsKindsSurgeRejects(t *testing.T) {
	wg := model.Proxy{
		Kind: model.KindWireGuard, Remark: "wg1", Host: "example.com", Port: 51820,
		WireGuard: &model.WireGuardFields{PrivateKey: "k", Addresses: []string{"10.0.0.2/32"}},
	}
	res := &compiler.Result{
		Proxies: []model.Proxy{wg},
		Groups:  []model.Group{{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"wg1"}}},
		Rules:   []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}

	_, surgeDiag, err := Render(TargetSurge, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(surgeDiag.Skipped) != 1 {
		t.Fatalf("expected surge to skip wireguard, got %v", surgeDiag.Skipped)
	}

	blocks, rocketDiag, err := Render(TargetShadowrocket, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rocketDiag.Skipped) != 0 {
		t.Fatalf("expected shadowrocket to accept wireguard, got %v", rocketDiag.Skipped)
	}
	if !strings.Contains(blocks.Proxies, "wireguard") {
		t.Fatalf("expected wireguard proxy line, got:\n%s", blocks.Proxies)
	}
}

func TestRender_Quanx_ProxyLineAndPolicy(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups:  []model.Group{{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"n1", "DIRECT"}}},
		Rules:   []model.Rule{{Type: model.RuleDomainSuffix, Value: "google.com", Action: "PROXY"}, {Type: model.RuleMatch, Action: "PROXY"}},
	}

	blocks, _, err := Render(TargetQuanx, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(blocks.Proxies, "shadowsocks = example.com:8388") {
		t.Fatalf("unexpected proxy line:\n%s", blocks.Proxies)
	}
	if !strings.Contains(blocks.Groups, "static=PROXY") {
		t.Fatalf("unexpected group line:\n%s", blocks.Groups)
	}
	if !strings.Contains(blocks.Rules, "DOMAIN-SUFFIX,google.com,PROXY") {
		t.Fatalf("unexpected rule line:\n%s", blocks.Rules)
	}
	if !strings.Contains(blocks.Rules, "FINAL,PROXY") {
		t.Fatalf("expected FINAL spelling for MATCH, got:\n%s", blocks.Rules)
	}
}

func TestRender_Quan_ProxyLineAndPolicy(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups:  []model.Group{{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"n1", "DIRECT"}}},
		Rules:   []model.Rule{{Type: model.RuleDomain, Value: "google.com", Action: "PROXY"}, {Type: model.RuleMatch, Action: "PROXY"}},
	}

	blocks, _, err := Render(TargetQuan, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(blocks.Proxies, "n1 = shadowsocks, example.com, 8388") {
		t.Fatalf("unexpected proxy line:\n%s", blocks.Proxies)
	}
	if !strings.Contains(blocks.Groups, "PROXY=select, n1, direct") {
		t.Fatalf("unexpected group line:\n%s", blocks.Groups)
	}
	if !strings.Contains(blocks.Rules, "HOST,google.com,PROXY") {
		t.Fatalf("unexpected rule line:\n%s", blocks.Rules)
	}
	if !strings.Contains(blocks.Rules, "FINAL,PROXY") {
		t.Fatalf("expected FINAL spelling for MATCH, got:\n%s", blocks.Rules)
	}
}

func TestRender_Singbox_OutboundShape(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	res := &compiler.Result{
		Proxies: []model.Proxy{n1},
		Groups:  []model.Group{{Name: "PROXY", Type: model.GroupSelect, ResolvedMembers: []string{"n1"}}},
		Rules:   []model.Rule{{Type: model.RuleMatch, Action: "PROXY"}},
	}

	blocks, _, err := Render(TargetSingbox, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var outbounds []map[string]any
	if err := json.Unmarshal([]byte(blocks.Proxies), &outbounds); err != nil {
		t.Fatalf("proxies block is not valid JSON: %v\n%s", err, blocks.Proxies)
	}
	if len(outbounds) != 1 || outbounds[0]["tag"] != "n1" || outbounds[0]["type"] != "ss" {
		t.Fatalf("unexpected outbound shape: %v", outbounds)
	}
}

func TestRender_SSD_ShadowsocksOnlyDocument(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	vm := model.Proxy{Kind: model.KindVMess, Remark: "v1", Host: "example.com", Port: 443, VMess: &model.VMessFields{UUID: "u", Security: "auto"}}

	res := &compiler.Result{Proxies: []model.Proxy{n1, vm}}
	blocks, diag, err := Render(TargetSSD, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diag.Skipped) != 1 || diag.Skipped[0].Remark != "v1" {
		t.Fatalf("expected vmess node to be skipped, got %v", diag.Skipped)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(blocks.Proxies), &doc); err != nil {
		t.Fatalf("not valid JSON: %v\n%s", err, blocks.Proxies)
	}
	servers, _ := doc["server"].([]any)
	if len(servers) != 1 {
		t.Fatalf("expected one ss server, got %v", doc)
	}
}

func TestRender_Mixed_EmitsLinkPerKind(t *testing.T) {
	n1 := ssProxy("n1", "example.com", 8388)
	res := &compiler.Result{Proxies: []model.Proxy{n1}}
	blocks, diag, err := Render(TargetMixed, res)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(diag.Skipped) != 0 {
		t.Fatalf("expected no skips, got %v", diag.Skipped)
	}
	if strings.TrimSpace(blocks.Proxies) == "" {
		t.Fatalf("expected non-empty base64 body")
	}
}

func TestRender_UnsupportedTarget(t *testing.T) {
	_, _, err := Render(Target("nope"), &compiler.Result{})
	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T: %v", err, err)
	}
	if re.AppError.Code != "UNSUPPORTED_TARGET" {
		t.Fatalf("code=%q, want=%q", re.AppError.Code, "UNSUPPORTED_TARGET")
	}
}

func TestTargetForUserAgent(t *testing.T) {
	cases := map[string]Target{
		"ClashForAndroid/2.5":        TargetClash,
		"Shadowrocket/2.2":           TargetShadowrocket,
		"Surge iOS/1.0":              TargetSurge,
		"Quantumult%20X/1.0.30":      TargetQuanx,
		"sing-box/1.8.0":             TargetSingbox,
		"Loon/3.0":                   TargetLoon,
		"Mellow/1.0":                 TargetMellow,
		"curl/8.0":                   TargetMixed,
	}
	for ua, want := range cases {
		if got := TargetForUserAgent(ua); got != want {
			t.Errorf("TargetForUserAgent(%q) = %q, want %q", ua, got, want)
		}
	}
}
