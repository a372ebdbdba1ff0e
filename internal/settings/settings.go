// Package settings implements static Settings plus the per-request Overlay
// and External Config layers (spec.md §4.9): precedence is
// request > external-config > static > hard-coded defaults.
package settings

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/John-Robertt/subconverter-go/internal/model"
	"github.com/John-Robertt/subconverter-go/internal/profile"
	"github.com/John-Robertt/subconverter-go/internal/rules"
	"gopkg.in/yaml.v3"
)

// APIMode controls how strictly the request-query layer is validated and
// how template substitution behaves, per spec.md §6.
type APIMode string

const (
	ModeStrict  APIMode = "strict"
	ModeClassic APIMode = "classic"
	ModeExpand  APIMode = "expand"
	ModeNewName APIMode = "new_name"
	ModeScript  APIMode = "script"
)

// SettingsError is fatal to process startup (static settings) or to the
// request (external config), per spec.md §7.
type SettingsError struct {
	AppError model.AppError
	Cause    error
}

func (e *SettingsError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *SettingsError) Unwrap() error { return e.Cause }

// RenameDirective is one "pattern -> replacement" rename rule as loaded
// from YAML, before its pattern is compiled.
type RenameDirective struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// rawSettings is the YAML shape of the static settings file. Field names
// follow the snake_case convention the teacher's profile package already
// uses for its own directive YAML.
type rawSettings struct {
	Listen                 string            `yaml:"listen"`
	DefaultURL             string            `yaml:"default_url"`
	ManagedConfigPrefix    string            `yaml:"managed_config_prefix"`
	RequireToken           bool              `yaml:"require_token"`
	Token                  string            `yaml:"token"`
	APIMode                string            `yaml:"api_mode"`
	FetchConcurrency       int               `yaml:"fetch_concurrency"`
	FetchTimeoutSeconds    int               `yaml:"fetch_timeout_seconds"`
	RulesetCacheTTLSeconds int               `yaml:"ruleset_cache_ttl_seconds"`
	MaxOutstandingFetches  int               `yaml:"max_outstanding_fetches"`
	DefaultTarget          string            `yaml:"default_target"`
	Include                []string          `yaml:"include"`
	Exclude                []string          `yaml:"exclude"`
	Rename                 []RenameDirective `yaml:"rename"`
	Emoji                  []RenameDirective `yaml:"emoji"` // Pattern/Replacement reused as Pattern/Emoji
	AddEmoji               bool              `yaml:"add_emoji"`
	RemoveEmoji            bool              `yaml:"remove_emoji"`
	AppendType             bool              `yaml:"append_type"`
	Sort                   bool              `yaml:"sort"`
	UDP                    string            `yaml:"udp"`
	TFO                    string            `yaml:"tfo"`
	SkipCertVerify         string            `yaml:"skip_cert_verify"`
	TLS13                  string            `yaml:"tls13"`
}

// Settings is the static, immutable configuration built once at process
// startup. A Settings value is safe to share across goroutines; request
// handling never mutates it.
type Settings struct {
	Listen                 string
	DefaultURL             string
	ManagedConfigPrefix    string
	RequireToken           bool
	Token                  string
	APIMode                APIMode
	FetchConcurrency       int
	FetchTimeoutSeconds    int
	RulesetCacheTTLSeconds int
	MaxOutstandingFetches  int // total in-flight fetches per request, across subs and rulesets; default 32
	DefaultTarget          string

	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
	Rename  []CompiledRename
	Emoji   []model.EmojiRule

	AddEmoji    bool
	RemoveEmoji bool
	AppendType  bool
	Sort        bool

	UDP            model.Tri
	TFO            model.Tri
	SkipCertVerify model.Tri
	TLS13          model.Tri
}

// CompiledRename pairs a compiled rename regexp with its replacement text.
type CompiledRename struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Load parses a static settings YAML document into a Settings value,
// compiling every regex eagerly so later per-request use cannot fail on a
// pattern that should have been rejected at startup.
func Load(content string) (*Settings, error) {
	var raw rawSettings
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, &SettingsError{AppError: model.AppError{
			Code:    "SETTINGS_PARSE_ERROR",
			Message: "failed to parse settings YAML",
			Stage:   "parse_settings",
		}, Cause: err}
	}

	s := &Settings{
		Listen:                 raw.Listen,
		DefaultURL:             raw.DefaultURL,
		ManagedConfigPrefix:    raw.ManagedConfigPrefix,
		RequireToken:           raw.RequireToken,
		Token:                  raw.Token,
		APIMode:                APIMode(raw.APIMode),
		FetchConcurrency:       raw.FetchConcurrency,
		FetchTimeoutSeconds:    raw.FetchTimeoutSeconds,
		RulesetCacheTTLSeconds: raw.RulesetCacheTTLSeconds,
		MaxOutstandingFetches:  raw.MaxOutstandingFetches,
		DefaultTarget:          raw.DefaultTarget,
		AddEmoji:               raw.AddEmoji,
		RemoveEmoji:            raw.RemoveEmoji,
		AppendType:             raw.AppendType,
		Sort:                   raw.Sort,
		UDP:                    triFromString(raw.UDP),
		TFO:                    triFromString(raw.TFO),
		SkipCertVerify:         triFromString(raw.SkipCertVerify),
		TLS13:                  triFromString(raw.TLS13),
	}
	if s.APIMode == "" {
		s.APIMode = ModeClassic
	}
	if s.FetchConcurrency <= 0 {
		s.FetchConcurrency = 8
	}
	if s.RulesetCacheTTLSeconds <= 0 {
		s.RulesetCacheTTLSeconds = 21600 // 6h
	}
	if s.MaxOutstandingFetches <= 0 {
		s.MaxOutstandingFetches = 32
	}

	var err error
	if s.Include, err = compilePatterns(raw.Include); err != nil {
		return nil, settingsCompileError("include", err)
	}
	if s.Exclude, err = compilePatterns(raw.Exclude); err != nil {
		return nil, settingsCompileError("exclude", err)
	}
	if s.Rename, err = compileRenames(raw.Rename); err != nil {
		return nil, settingsCompileError("rename", err)
	}
	for _, e := range raw.Emoji {
		if e.Pattern == "" {
			continue
		}
		if _, err := regexp.Compile(e.Pattern); err != nil {
			return nil, settingsCompileError("emoji", err)
		}
		s.Emoji = append(s.Emoji, model.EmojiRule{Pattern: e.Pattern, Emoji: e.Replacement})
	}
	return s, nil
}

func settingsCompileError(field string, cause error) error {
	return &SettingsError{AppError: model.AppError{
		Code:    "SETTINGS_VALIDATE_ERROR",
		Message: fmt.Sprintf("invalid %s pattern in settings", field),
		Stage:   "parse_settings",
	}, Cause: cause}
}

func compilePatterns(in []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range in {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func compileRenames(in []RenameDirective) ([]CompiledRename, error) {
	var out []CompiledRename
	for _, d := range in {
		re, err := regexp.Compile(d.Pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, CompiledRename{Pattern: re, Replacement: d.Replacement})
	}
	return out, nil
}

func triFromString(s string) model.Tri {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return model.TriTrue
	case "false", "0", "no":
		return model.TriFalse
	default:
		return model.TriUnset
	}
}

// ExternalConfig is the settings superset of the teacher's profile grammar:
// everything profile.Spec already carries, plus emoji/rename directives and
// an optional API-mode override, per spec.md §4.9.
type ExternalConfig struct {
	*profile.Spec

	Rename  []CompiledRename
	Emoji   []model.EmojiRule
	APIMode APIMode // "" means unset: static Settings.APIMode applies
}

type rawExternalConfig struct {
	Version          int               `yaml:"version"`
	Template         map[string]string `yaml:"template"`
	PublicBaseURL    string            `yaml:"public_base_url"`
	CustomProxyGroup []string          `yaml:"custom_proxy_group"`
	Ruleset          []string          `yaml:"ruleset"`
	Rule             []string          `yaml:"rule"`
	Rename           []string          `yaml:"rename"`
	Emoji            []string          `yaml:"emoji"`
	APIMode          string            `yaml:"api_mode"`
}

// ParseExternalConfigYAML decodes an external-config document using the
// same token-split directive grammar as internal/profile for the fields it
// shares, then layers rename/emoji/api_mode on top. requiredTarget is
// forwarded to the embedded profile parse for template-key validation.
func ParseExternalConfigYAML(sourceURL, content, requiredTarget string) (*ExternalConfig, error) {
	var raw rawExternalConfig
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, &SettingsError{AppError: model.AppError{
			Code:    "SETTINGS_PARSE_ERROR",
			Message: "failed to parse external config YAML",
			Stage:   "parse_external_config",
			URL:     sourceURL,
		}, Cause: err}
	}

	rebuilt, err := yaml.Marshal(struct {
		Version          int               `yaml:"version"`
		Template         map[string]string `yaml:"template"`
		PublicBaseURL    string            `yaml:"public_base_url"`
		CustomProxyGroup []string          `yaml:"custom_proxy_group"`
		Ruleset          []string          `yaml:"ruleset"`
		Rule             []string          `yaml:"rule"`
	}{raw.Version, raw.Template, raw.PublicBaseURL, raw.CustomProxyGroup, raw.Ruleset, raw.Rule})
	if err != nil {
		return nil, &SettingsError{AppError: model.AppError{
			Code:    "SETTINGS_PARSE_ERROR",
			Message: "failed to re-encode external config for profile parsing",
			Stage:   "parse_external_config",
			URL:     sourceURL,
		}, Cause: err}
	}

	spec, err := profile.ParseProfileYAML(sourceURL, string(rebuilt), requiredTarget)
	if err != nil {
		return nil, err
	}

	cfg := &ExternalConfig{Spec: spec, APIMode: APIMode(raw.APIMode)}

	for _, line := range raw.Rename {
		pattern, replacement, ok := strings.Cut(line, "@")
		if !ok {
			return nil, &SettingsError{AppError: model.AppError{
				Code:    "SETTINGS_VALIDATE_ERROR",
				Message: "rename directive must be PATTERN@REPLACEMENT",
				Stage:   "parse_external_config",
				URL:     sourceURL,
				Snippet: line,
			}}
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &SettingsError{AppError: model.AppError{
				Code:    "SETTINGS_VALIDATE_ERROR",
				Message: "rename pattern does not compile",
				Stage:   "parse_external_config",
				URL:     sourceURL,
				Snippet: line,
			}, Cause: err}
		}
		cfg.Rename = append(cfg.Rename, CompiledRename{Pattern: re, Replacement: replacement})
	}

	for _, line := range raw.Emoji {
		pattern, emoji, ok := strings.Cut(line, ",")
		if !ok {
			return nil, &SettingsError{AppError: model.AppError{
				Code:    "SETTINGS_VALIDATE_ERROR",
				Message: "emoji directive must be PATTERN,EMOJI",
				Stage:   "parse_external_config",
				URL:     sourceURL,
				Snippet: line,
			}}
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, &SettingsError{AppError: model.AppError{
				Code:    "SETTINGS_VALIDATE_ERROR",
				Message: "emoji pattern does not compile",
				Stage:   "parse_external_config",
				URL:     sourceURL,
				Snippet: line,
			}, Cause: err}
		}
		cfg.Emoji = append(cfg.Emoji, model.EmojiRule{Pattern: pattern, Emoji: emoji})
	}

	return cfg, nil
}

// Overlay is the per-request layer: any zero-value/nil field means "not
// set at this level", so Resolve can fall through to external-config then
// static then hard-coded defaults.
type Overlay struct {
	Include    []*regexp.Regexp
	Exclude    []*regexp.Regexp
	Rename     []CompiledRename
	Emoji      []model.EmojiRule
	AddEmoji   model.Tri
	AppendType model.Tri
	Sort       model.Tri
	Target     string

	UDP            model.Tri
	TFO            model.Tri
	SkipCertVerify model.Tri
	TLS13          model.Tri
}

// Snapshot is the fully-resolved, immutable configuration for one request,
// produced by Resolve. It is never mutated after construction.
type Snapshot struct {
	Target         string
	Include        []*regexp.Regexp
	Exclude        []*regexp.Regexp
	Rename         []CompiledRename
	Emoji          []model.EmojiRule
	AddEmoji       bool
	RemoveEmoji    bool
	AppendType     bool
	Sort           bool
	UDP            model.Tri
	TFO            model.Tri
	SkipCertVerify model.Tri
	TLS13          model.Tri
	APIMode        APIMode
}

// Resolve merges static Settings, an optional ExternalConfig, and a
// per-request Overlay into one Snapshot, applying request > external-config
// > static > defaults precedence field by field (spec.md §4.9).
func Resolve(s *Settings, ext *ExternalConfig, ov Overlay) Snapshot {
	snap := Snapshot{
		Target:         s.DefaultTarget,
		Include:        s.Include,
		Exclude:        s.Exclude,
		Rename:         s.Rename,
		Emoji:          s.Emoji,
		AddEmoji:       s.AddEmoji,
		RemoveEmoji:    s.RemoveEmoji,
		AppendType:     s.AppendType,
		Sort:           s.Sort,
		UDP:            s.UDP,
		TFO:            s.TFO,
		SkipCertVerify: s.SkipCertVerify,
		TLS13:          s.TLS13,
		APIMode:        s.APIMode,
	}

	if ext != nil {
		if len(ext.Rename) > 0 {
			snap.Rename = ext.Rename
		}
		if len(ext.Emoji) > 0 {
			snap.Emoji = ext.Emoji
		}
		if ext.APIMode != "" {
			snap.APIMode = ext.APIMode
		}
	}

	if len(ov.Include) > 0 {
		snap.Include = ov.Include
	}
	if len(ov.Exclude) > 0 {
		snap.Exclude = ov.Exclude
	}
	if len(ov.Rename) > 0 {
		snap.Rename = ov.Rename
	}
	if len(ov.Emoji) > 0 {
		snap.Emoji = ov.Emoji
	}
	if ov.AddEmoji != model.TriUnset {
		snap.AddEmoji = ov.AddEmoji.Bool(snap.AddEmoji)
	}
	if ov.AppendType != model.TriUnset {
		snap.AppendType = ov.AppendType.Bool(snap.AppendType)
	}
	if ov.Sort != model.TriUnset {
		snap.Sort = ov.Sort.Bool(snap.Sort)
	}
	if ov.Target != "" {
		snap.Target = ov.Target
	}
	if ov.UDP != model.TriUnset {
		snap.UDP = ov.UDP
	}
	if ov.TFO != model.TriUnset {
		snap.TFO = ov.TFO
	}
	if ov.SkipCertVerify != model.TriUnset {
		snap.SkipCertVerify = ov.SkipCertVerify
	}
	if ov.TLS13 != model.TriUnset {
		snap.TLS13 = ov.TLS13
	}

	return snap
}

// ParseInlineRule reuses the rules package's single-line directive grammar,
// exposed here so settings callers building inline request-level rule
// overrides don't need to import internal/rules directly.
func ParseInlineRule(line string) (model.Rule, error) {
	return rules.ParseInlineRule(line)
}
