package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/compiler"
	"github.com/John-Robertt/subconverter-go/internal/document"
	"github.com/John-Robertt/subconverter-go/internal/fetch"
	"github.com/John-Robertt/subconverter-go/internal/group"
	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/pipeline"
	"github.com/John-Robertt/subconverter-go/internal/profile"
	"github.com/John-Robertt/subconverter-go/internal/render"
	"github.com/John-Robertt/subconverter-go/internal/ruleset"
	"github.com/John-Robertt/subconverter-go/internal/settings"
	"github.com/John-Robertt/subconverter-go/internal/template"
	"github.com/John-Robertt/subconverter-go/internal/uri"
)

// convertHandler holds the dependencies shared across /sub and /api/convert
// requests: resolved Options and the long-lived ruleset cache.
type convertHandler struct {
	opt      Options
	rulesets *ruleset.Engine
}

type convertRequest struct {
	Mode     string
	Target   render.Target
	Subs     []string
	Profile  string
	Encode   string // only for mode=list: "base64" | "raw"
	FileName string
}

type convertRequestJSON struct {
	Mode     string   `json:"mode"`
	Target   string   `json:"target"`
	Subs     []string `json:"subs"`
	Profile  string   `json:"profile"`
	Encode   string   `json:"encode"`
	FileName string   `json:"fileName"`
}

func (h *convertHandler) handleSub(w http.ResponseWriter, r *http.Request) {
	req, err := parseConvertGET(r)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	out, diag, err := h.runConvert(r.Context(), r, req)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	if err := setAttachmentHeaders(w, req); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeSkippedHeader(w, diag)
	WriteText(w, http.StatusOK, out)
}

func (h *convertHandler) handleConvert(w http.ResponseWriter, r *http.Request) {
	req, err := parseConvertPOST(r)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	out, diag, err := h.runConvert(r.Context(), r, req)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	if err := setAttachmentHeaders(w, req); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	writeSkippedHeader(w, diag)
	WriteText(w, http.StatusOK, out)
}

func writeSkippedHeader(w http.ResponseWriter, diag render.Diagnostics) {
	if len(diag.Skipped) == 0 {
		return
	}
	w.Header().Set("X-Skipped-Nodes", fmt.Sprintf("%d", len(diag.Skipped)))
}

func (h *convertHandler) runConvert(ctx context.Context, r *http.Request, req convertRequest) (string, render.Diagnostics, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opt.ConvertTimeout)
	defer cancel()

	budget := fetch.NewBudget(h.maxOutstandingFetches())

	subs, err := h.fetchAndParseSubs(ctx, req.Subs, budget)
	if err != nil {
		return "", render.Diagnostics{}, err
	}

	switch req.Mode {
	case "list":
		return h.runList(subs, req)
	case "config":
		return h.runConfig(ctx, r, subs, req, budget)
	default:
		return "", render.Diagnostics{}, requestError("INVALID_ARGUMENT", "不支持的 mode（仅支持 config/list）", req.Mode)
	}
}

func (h *convertHandler) runList(subs []model.Proxy, req convertRequest) (string, render.Diagnostics, error) {
	rawList, err := renderLinkListRaw(subs)
	if err != nil {
		return "", render.Diagnostics{}, err
	}

	encode := req.Encode
	if encode == "" {
		encode = "base64"
	}
	switch encode {
	case "raw":
		return rawList, render.Diagnostics{}, nil
	case "base64":
		return base64.StdEncoding.EncodeToString([]byte(rawList)), render.Diagnostics{}, nil
	default:
		return "", render.Diagnostics{}, requestError("INVALID_ARGUMENT", "不支持的 encode（仅支持 base64/raw）", encode)
	}
}

// maxOutstandingFetches returns the per-request cap shared by every fetch
// path (subscriptions and rulesets), per spec.md §5. Default 32.
func (h *convertHandler) maxOutstandingFetches() int {
	if h.opt.Settings != nil && h.opt.Settings.MaxOutstandingFetches > 0 {
		return h.opt.Settings.MaxOutstandingFetches
	}
	return 32
}

func (h *convertHandler) runConfig(ctx context.Context, r *http.Request, subs []model.Proxy, req convertRequest, budget *fetch.Budget) (string, render.Diagnostics, error) {
	requiredTemplateKey := ""
	if targetNeedsTemplate(req.Target) {
		requiredTemplateKey = string(req.Target)
	}

	prof, err := h.fetchAndParseProfile(ctx, req.Profile, requiredTemplateKey)
	if err != nil {
		return "", render.Diagnostics{}, err
	}

	snap := settings.Resolve(h.opt.Settings, nil, settings.Overlay{})
	subs = applyGlobalFlags(subs, snap)

	res, err := compiler.Compile(ctx, subs, prof, compiler.Options{
		Pipeline:        buildPipelineConfig(snap),
		AllowEmptyGroup: false,
		Insert:          h.insertResolver(ctx),
		Rulesets:        h.rulesets,
		FetchBudget:     budget,
	})
	if err != nil {
		return "", render.Diagnostics{}, err
	}

	blocks, diag, err := render.Render(req.Target, res)
	if err != nil {
		return "", diag, err
	}

	if !targetNeedsTemplate(req.Target) {
		return blocks.Proxies, diag, nil
	}

	templateURL := prof.Template[string(req.Target)]
	templateText, err := fetch.FetchText(ctx, fetch.KindTemplate, templateURL)
	if err != nil {
		return "", diag, err
	}

	out, err := template.InjectAnchors(templateText, blocks, template.AnchorOptions{
		Target:      req.Target,
		TemplateURL: templateURL,
	})
	if err != nil {
		return "", diag, err
	}

	if req.Target == render.TargetSurge {
		currentURL, err := buildSurgeManagedConfigURL(r, req, prof.PublicBaseURL)
		if err != nil {
			return "", diag, err
		}
		out, err = template.EnsureSurgeManagedConfig(out, currentURL, templateURL)
		if err != nil {
			return "", diag, err
		}
	}

	return out, diag, nil
}

// targetNeedsTemplate reports whether target renders into an externally
// supplied template via anchors, as opposed to a standalone document.
func targetNeedsTemplate(t render.Target) bool {
	switch t {
	case render.TargetSSD, render.TargetSSSub, render.TargetMixed:
		return false
	default:
		return true
	}
}

func (h *convertHandler) fetchAndParseSubs(ctx context.Context, subURLs []string, budget *fetch.Budget) ([]model.Proxy, error) {
	concurrency := 8
	if h.opt.Settings != nil && h.opt.Settings.FetchConcurrency > 0 {
		concurrency = h.opt.Settings.FetchConcurrency
	}
	return fetchSubs(ctx, subURLs, concurrency, fetch.Options{Timeout: h.opt.FetchTimeout}, budget)
}

// fetchAndParseSubs is the handler-independent entry point used directly in
// tests; it fetches with the package default concurrency and no shared
// outstanding-fetch budget.
func fetchAndParseSubs(ctx context.Context, subURLs []string) ([]model.Proxy, error) {
	return fetchSubs(ctx, subURLs, 8, fetch.Options{}, nil)
}

func fetchSubs(ctx context.Context, subURLs []string, concurrency int, fetchOpt fetch.Options, budget *fetch.Budget) ([]model.Proxy, error) {
	seen := make(map[string]struct{}, len(subURLs))
	targets := make([]fetch.Target, 0, len(subURLs))
	for _, raw := range subURLs {
		u := strings.TrimSpace(raw)
		if u == "" {
			return nil, requestError("INVALID_ARGUMENT", "sub 不能为空", "")
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		targets = append(targets, fetch.Target{Tag: u, URL: u, Kind: fetch.KindSubscription})
	}

	results := fetch.FetchAll(ctx, targets, fetch.PoolOptions{
		Concurrency:  concurrency,
		FetchOptions: fetchOpt,
		Strict:       true,
		Budget:       budget,
	})

	out := make([]model.Proxy, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		proxies, err := document.Detect(res.Target.URL, res.Text)
		if err != nil {
			return nil, err
		}
		out = append(out, proxies...)
	}
	if len(out) == 0 {
		return nil, &compiler.CompileError{
			AppError: model.AppError{
				Code:    "SUB_PARSE_ERROR",
				Message: "订阅中没有任何可用节点",
				Stage:   "compile",
			},
		}
	}
	return out, nil
}

func (h *convertHandler) fetchAndParseProfile(ctx context.Context, profileURL string, requiredTarget string) (*profile.Spec, error) {
	profileURL = strings.TrimSpace(profileURL)
	if profileURL == "" {
		return nil, requestError("INVALID_ARGUMENT", "profile 不能为空", "")
	}
	text, err := fetch.FetchText(ctx, fetch.KindProfile, profileURL)
	if err != nil {
		return nil, err
	}
	return profile.ParseProfileYAML(profileURL, text, requiredTarget)
}

// insertResolver wires "!!INSERT=<url>" group terms to the same fetch+parse
// path used for top-level subscriptions, folded into a group.Insert closure.
func (h *convertHandler) insertResolver(ctx context.Context) group.Insert {
	return func(ref string) ([]string, error) {
		text, err := fetch.FetchText(ctx, fetch.KindSubscription, ref)
		if err != nil {
			return nil, err
		}
		proxies, err := document.Detect(ref, text)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(proxies))
		for i, p := range proxies {
			names[i] = p.Remark
		}
		return names, nil
	}
}

// applyGlobalFlags fills UDP/TFO/SkipCertVerify/TLS13 from the resolved
// snapshot wherever a proxy left the field unset; an explicit per-node value
// always wins.
func applyGlobalFlags(proxies []model.Proxy, snap settings.Snapshot) []model.Proxy {
	if snap.UDP == model.TriUnset && snap.TFO == model.TriUnset &&
		snap.SkipCertVerify == model.TriUnset && snap.TLS13 == model.TriUnset {
		return proxies
	}

	out := make([]model.Proxy, len(proxies))
	copy(out, proxies)
	for i := range out {
		if out[i].UDP == model.TriUnset {
			out[i].UDP = snap.UDP
		}
		if out[i].TFO == model.TriUnset {
			out[i].TFO = snap.TFO
		}
		if out[i].SkipCertVerify == model.TriUnset {
			out[i].SkipCertVerify = snap.SkipCertVerify
		}
		if out[i].TLS13 == model.TriUnset {
			out[i].TLS13 = snap.TLS13
		}
	}
	return out
}

func buildPipelineConfig(snap settings.Snapshot) pipeline.Config {
	return pipeline.Config{
		Include:     snap.Include,
		Exclude:     snap.Exclude,
		RemoveEmoji: snap.RemoveEmoji,
		AddEmoji:    snap.AddEmoji,
		EmojiRules:  snap.Emoji,
		Rename:      renameRulesFrom(snap.Rename),
		Dedup:       true,
		Sort:        snap.Sort,
		AppendType:  snap.AppendType,
	}
}

func renameRulesFrom(in []settings.CompiledRename) []pipeline.RenameRule {
	out := make([]pipeline.RenameRule, 0, len(in))
	for _, r := range in {
		out = append(out, pipeline.RenameRule{Pattern: r.Pattern, Replacement: r.Replacement})
	}
	return out
}

func renderLinkListRaw(proxies []model.Proxy) (string, error) {
	if len(proxies) == 0 {
		return "", errors.New("empty proxies list")
	}
	lines := make([]string, 0, len(proxies))
	for _, p := range proxies {
		line, err := uri.Emit(p)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	// v1 spec: raw output must end with a newline.
	return strings.Join(lines, "\n") + "\n", nil
}

func pctEncode(s string) string {
	// RFC 3986 percent-encoding for query/fragment. Go's QueryEscape uses '+' for
	// spaces, which we rewrite to %20 for stability and to avoid ambiguity.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func buildSurgeManagedConfigURL(r *http.Request, req convertRequest, publicBaseURL string) (string, error) {
	if req.Mode != "config" || req.Target != render.TargetSurge {
		return "", requestError("INVALID_ARGUMENT", "仅 mode=config&target=surge 需要 managed-config URL", "")
	}
	if len(req.Subs) == 0 || strings.TrimSpace(req.Profile) == "" {
		return "", requestError("INVALID_ARGUMENT", "生成 managed-config URL 需要 sub/profile", "")
	}

	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = deriveRequestBaseURL(r) + "/sub"
	}

	u, err := url.Parse(base)
	if err != nil || u == nil || !u.IsAbs() {
		return "", apiError(http.StatusUnprocessableEntity, model.AppError{
			Code:    "PROFILE_VALIDATE_ERROR",
			Message: "public_base_url 不合法，无法生成 managed-config URL",
			Stage:   "compile",
			Snippet: base,
		}, errors.Join(errors.New("invalid public_base_url"), err))
	}

	// Deterministic query serialization (SPEC_DETERMINISM.md):
	// 1) mode=config
	// 2) target=surge
	// 3) sub=... in input order
	// 4) profile=...
	// 5) fileName=... (only when the original request carried one)
	prefix := []kv{
		{k: "mode", v: "config"},
		{k: "target", v: "surge"},
	}
	u.RawQuery = serializeQuery(prefix, req.Subs, req.Profile, req.FileName)
	u.Fragment = ""
	return u.String(), nil
}

type kv struct {
	k string
	v string
}

func serializeQuery(prefix []kv, subs []string, profileURL string, fileName string) string {
	parts := make([]kv, 0, len(prefix)+len(subs)+2)
	parts = append(parts, prefix...)
	for _, s := range subs {
		parts = append(parts, kv{k: "sub", v: s})
	}
	parts = append(parts, kv{k: "profile", v: profileURL})
	if fileName != "" {
		parts = append(parts, kv{k: "fileName", v: fileName})
	}

	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(pctEncode(p.v))
	}
	return b.String()
}

func deriveRequestBaseURL(r *http.Request) string {
	if r == nil {
		return "http://127.0.0.1:25500"
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "127.0.0.1:25500"
	}
	return scheme + "://" + host
}

func parseConvertGET(r *http.Request) (convertRequest, error) {
	q := r.URL.Query()
	for key := range q {
		switch key {
		case "mode", "target", "sub", "profile", "encode", "fileName":
		default:
			return convertRequest{}, requestError("INVALID_ARGUMENT", fmt.Sprintf("不支持的 query 参数：%s", key), "")
		}
	}

	mode, err := singleQuery(q, "mode", true)
	if err != nil {
		return convertRequest{}, err
	}
	mode = strings.TrimSpace(mode)
	if mode != "config" && mode != "list" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "不支持的 mode（仅支持 config/list）", mode)
	}

	subs := q["sub"]
	if len(subs) == 0 {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "缺少 sub 参数", "expected: sub=<url>")
	}
	subs2 := make([]string, 0, len(subs))
	for _, s := range subs {
		s = strings.TrimSpace(s)
		if s == "" {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "sub 不能为空", "")
		}
		subs2 = append(subs2, s)
	}

	fileName, err := singleQuery(q, "fileName", false)
	if err != nil {
		return convertRequest{}, err
	}

	if mode == "list" {
		if _, ok := q["target"]; ok {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "mode=list 不支持 target", "")
		}
		if _, ok := q["profile"]; ok {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "mode=list 不支持 profile", "")
		}
		encode, err := singleQuery(q, "encode", false)
		if err != nil {
			return convertRequest{}, err
		}
		if encode == "" {
			encode = "base64"
		}
		if encode != "base64" && encode != "raw" {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "不支持的 encode（仅支持 base64/raw）", encode)
		}
		return convertRequest{Mode: "list", Subs: subs2, Encode: encode, FileName: fileName}, nil
	}

	// mode=config
	if _, ok := q["encode"]; ok {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "mode=config 不支持 encode", "")
	}
	targetStr, err := singleQuery(q, "target", true)
	if err != nil {
		return convertRequest{}, err
	}
	target, err := parseTarget(targetStr, r.UserAgent())
	if err != nil {
		return convertRequest{}, err
	}
	profileURL, err := singleQuery(q, "profile", true)
	if err != nil {
		return convertRequest{}, err
	}
	profileURL = strings.TrimSpace(profileURL)
	if profileURL == "" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "profile 不能为空", "")
	}
	return convertRequest{
		Mode:     "config",
		Target:   target,
		Subs:     subs2,
		Profile:  profileURL,
		FileName: fileName,
	}, nil
}

func parseConvertPOST(r *http.Request) (convertRequest, error) {
	var body convertRequestJSON
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "JSON body 不允许多段", "")
	} else if !errors.Is(err, io.EOF) {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}

	mode := strings.TrimSpace(body.Mode)
	if mode != "config" && mode != "list" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "不支持的 mode（仅支持 config/list）", mode)
	}
	if len(body.Subs) == 0 {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "subs 不能为空", "")
	}
	subs := make([]string, 0, len(body.Subs))
	for _, s := range body.Subs {
		s = strings.TrimSpace(s)
		if s == "" {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "subs 不能为空", "")
		}
		subs = append(subs, s)
	}
	fileName := strings.TrimSpace(body.FileName)

	if mode == "list" {
		if strings.TrimSpace(body.Target) != "" {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "mode=list 不支持 target", "")
		}
		if strings.TrimSpace(body.Profile) != "" {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "mode=list 不支持 profile", "")
		}
		encode := strings.TrimSpace(body.Encode)
		if encode == "" {
			encode = "base64"
		}
		if encode != "base64" && encode != "raw" {
			return convertRequest{}, requestError("INVALID_ARGUMENT", "不支持的 encode（仅支持 base64/raw）", encode)
		}
		return convertRequest{Mode: "list", Subs: subs, Encode: encode, FileName: fileName}, nil
	}

	// mode=config
	if strings.TrimSpace(body.Encode) != "" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "mode=config 不支持 encode", "")
	}

	target, err := parseTarget(body.Target, r.UserAgent())
	if err != nil {
		return convertRequest{}, err
	}
	profileURL := strings.TrimSpace(body.Profile)
	if profileURL == "" {
		return convertRequest{}, requestError("INVALID_ARGUMENT", "profile 不能为空", "")
	}
	return convertRequest{Mode: "config", Target: target, Subs: subs, Profile: profileURL, FileName: fileName}, nil
}

func parseTarget(s string, userAgent string) (render.Target, error) {
	switch strings.TrimSpace(s) {
	case string(render.TargetClash):
		return render.TargetClash, nil
	case string(render.TargetSurge):
		return render.TargetSurge, nil
	case string(render.TargetShadowrocket):
		return render.TargetShadowrocket, nil
	case string(render.TargetQuan):
		return render.TargetQuan, nil
	case string(render.TargetQuanx):
		return render.TargetQuanx, nil
	case string(render.TargetSingbox):
		return render.TargetSingbox, nil
	case string(render.TargetLoon):
		return render.TargetLoon, nil
	case string(render.TargetMellow):
		return render.TargetMellow, nil
	case string(render.TargetSSD):
		return render.TargetSSD, nil
	case string(render.TargetSSSub):
		return render.TargetSSSub, nil
	case string(render.TargetMixed):
		return render.TargetMixed, nil
	case "auto":
		return render.TargetForUserAgent(userAgent), nil
	default:
		return "", requestError("INVALID_ARGUMENT", "不支持的 target", s)
	}
}

func singleQuery(q url.Values, key string, required bool) (string, error) {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		if required {
			return "", requestError("INVALID_ARGUMENT", fmt.Sprintf("缺少 %s 参数", key), "")
		}
		return "", nil
	}
	if len(values) != 1 {
		return "", requestError("INVALID_ARGUMENT", fmt.Sprintf("%s 参数只能出现一次", key), "")
	}
	return values[0], nil
}
