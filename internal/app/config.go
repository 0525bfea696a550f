package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultLabelPrefix   = "backport "
	defaultBranchPrefix  = "backport"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultConcurrency   = 2
	defaultTraceExporter = "none"
)

var supportedTraceExporters = map[string]struct{}{
	"none":   {},
	"stdout": {},
	"otlp":   {},
}

// Config captures runtime options sourced from GitHub Action inputs, environment
// variables, an optional config file, and command line flags.
type Config struct {
	GitHubToken      string
	GitHubBaseURL    string
	GitHubUploadURL  string
	LabelPrefix      string
	BranchPrefix     string
	TargetBranches   []string
	DryRun           bool
	Verbose          bool
	CommentOnFailure bool
	Concurrency      int
	LogLevel         string
	LogFormat        string
	TraceExporter    string
	OTLPEndpoint     string
}

// NewViper returns a viper instance reading action inputs from INPUT_* variables.
// github_token falls back to GITHUB_TOKEN.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("INPUT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("github_token", "INPUT_GITHUB_TOKEN", "GITHUB_TOKEN")

	v.SetDefault("label_prefix", defaultLabelPrefix)
	v.SetDefault("branch_prefix", defaultBranchPrefix)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("comment_on_failure", "true")
	v.SetDefault("concurrency", strconv.Itoa(defaultConcurrency))
	v.SetDefault("trace_exporter", defaultTraceExporter)
	return v
}

// LoadConfig reads every key from v, applies defaults, and performs validation.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		GitHubToken:     strings.TrimSpace(v.GetString("github_token")),
		GitHubBaseURL:   strings.TrimSpace(v.GetString("github_base_url")),
		GitHubUploadURL: strings.TrimSpace(v.GetString("github_upload_url")),
		LabelPrefix:     v.GetString("label_prefix"),
		BranchPrefix:    strings.TrimSpace(v.GetString("branch_prefix")),
		LogLevel:        strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogFormat:       strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		TraceExporter:   strings.ToLower(strings.TrimSpace(v.GetString("trace_exporter"))),
		OTLPEndpoint:    strings.TrimSpace(v.GetString("otlp_endpoint")),
		TargetBranches:  targetBranches(v.Get("target_branches")),
	}

	var err error
	if cfg.DryRun, err = parseBool(v, "dry_run", false); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = parseBool(v, "verbose", false); err != nil {
		return Config{}, err
	}
	if cfg.CommentOnFailure, err = parseBool(v, "comment_on_failure", true); err != nil {
		return Config{}, err
	}

	cfg.Concurrency = defaultConcurrency
	if raw := strings.TrimSpace(v.GetString("concurrency")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse concurrency: %w", err)
		}
		if n < 1 {
			return Config{}, fmt.Errorf("concurrency must be at least 1, got %d", n)
		}
		cfg.Concurrency = n
	}

	if cfg.GitHubToken == "" {
		return Config{}, fmt.Errorf("github token is required (set INPUT_GITHUB_TOKEN or GITHUB_TOKEN)")
	}

	if (cfg.GitHubBaseURL == "") != (cfg.GitHubUploadURL == "") {
		return Config{}, fmt.Errorf("INPUT_GITHUB_BASE_URL and INPUT_GITHUB_UPLOAD_URL must both be set for GitHub Enterprise")
	}

	// Trailing whitespace is part of the prefix.
	if strings.TrimSpace(cfg.LabelPrefix) == "" {
		cfg.LabelPrefix = defaultLabelPrefix
	}

	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = defaultBranchPrefix
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}

	if cfg.TraceExporter == "" {
		cfg.TraceExporter = defaultTraceExporter
	}

	supportedFormats := map[string]struct{}{"text": {}, "json": {}}
	if _, ok := supportedFormats[cfg.LogFormat]; !ok {
		return Config{}, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	if _, ok := supportedTraceExporters[cfg.TraceExporter]; !ok {
		return Config{}, fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func parseBool(v *viper.Viper, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// targetBranches accepts a comma or newline separated string, as action inputs
// arrive, or a list from a config file.
func targetBranches(raw any) []string {
	switch t := raw.(type) {
	case nil:
		return nil
	case string:
		return parseBranchList(t)
	case []string:
		return parseBranchList(strings.Join(t, ","))
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
		return parseBranchList(strings.Join(parts, ","))
	default:
		return parseBranchList(fmt.Sprint(t))
	}
}

func parseBranchList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	branches := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			branches = append(branches, trimmed)
		}
	}

	if len(branches) == 0 {
		return nil
	}
	return branches
}
