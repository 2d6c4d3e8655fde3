// Package config assembles reposcope's effective configuration from layered
// sources: compiled-in defaults, a repo config file (.reposcope.toml or
// .reposcope.yaml), REPOSCOPE_* environment variables, and CLI flags, in
// that ascending order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	tomlenc "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is reposcope's full effective configuration (schema v1).
type Config struct {
	Version  int    `mapstructure:"version" toml:"version" yaml:"version"`
	RepoRoot string `mapstructure:"repo_root" toml:"repo_root" yaml:"repo_root"`
	DataDir  string `mapstructure:"data_dir" toml:"data_dir" yaml:"data_dir"`

	Discovery DiscoveryConfig `mapstructure:"discovery" toml:"discovery" yaml:"discovery"`
	Chunking  ChunkingConfig  `mapstructure:"chunking" toml:"chunking" yaml:"chunking"`
	Limits    LimitsConfig    `mapstructure:"limits" toml:"limits" yaml:"limits"`
	Search    SearchConfig    `mapstructure:"search" toml:"search" yaml:"search"`
	Bundler   BundlerConfig   `mapstructure:"bundler" toml:"bundler" yaml:"bundler"`
	Adapters  AdaptersConfig  `mapstructure:"adapters" toml:"adapters" yaml:"adapters"`
	Logging   LoggingConfig   `mapstructure:"logging" toml:"logging" yaml:"logging"`
	Audit     AuditConfig     `mapstructure:"audit" toml:"audit" yaml:"audit"`
}

// DiscoveryConfig controls which files Discovery considers indexable.
type DiscoveryConfig struct {
	IncludeExtensions []string `mapstructure:"include_extensions" toml:"include_extensions" yaml:"include_extensions"`
	ExcludeGlobs      []string `mapstructure:"exclude_globs" toml:"exclude_globs" yaml:"exclude_globs"`
	TestGlobs         []string `mapstructure:"test_globs" toml:"test_globs" yaml:"test_globs"`
	IncludeHidden     bool     `mapstructure:"include_hidden" toml:"include_hidden" yaml:"include_hidden"`
	ExtraDenylist     []string `mapstructure:"extra_denylist" toml:"extra_denylist" yaml:"extra_denylist"`
}

// ChunkingConfig controls the Chunker's fixed line window.
type ChunkingConfig struct {
	WindowLines   int `mapstructure:"window_lines" toml:"window_lines" yaml:"window_lines"`
	OverlapLines  int `mapstructure:"overlap_lines" toml:"overlap_lines" yaml:"overlap_lines"`
	ChunkVersion  int `mapstructure:"chunk_version" toml:"chunk_version" yaml:"chunk_version"`
}

// LimitsConfig holds the hard caps enforced by the Sandbox and tool layer.
type LimitsConfig struct {
	MaxFileBytes             int64 `mapstructure:"max_file_bytes" toml:"max_file_bytes" yaml:"max_file_bytes"`
	MaxOpenLines             int   `mapstructure:"max_open_lines" toml:"max_open_lines" yaml:"max_open_lines"`
	MaxTotalBytesPerResponse int64 `mapstructure:"max_total_bytes_per_response" toml:"max_total_bytes_per_response" yaml:"max_total_bytes_per_response"`
	MaxSearchHits            int   `mapstructure:"max_search_hits" toml:"max_search_hits" yaml:"max_search_hits"`
	MaxReferences            int   `mapstructure:"max_references" toml:"max_references" yaml:"max_references"`
	IndexRefreshTimeoutMs    int   `mapstructure:"index_refresh_timeout_ms" toml:"index_refresh_timeout_ms" yaml:"index_refresh_timeout_ms"`
}

// SearchConfig controls BM25 defaults.
type SearchConfig struct {
	DefaultTopK int `mapstructure:"default_top_k" toml:"default_top_k" yaml:"default_top_k"`
}

// BundlerConfig controls context-bundle assembly defaults.
type BundlerConfig struct {
	DefaultMaxFiles      int      `mapstructure:"default_max_files" toml:"default_max_files" yaml:"default_max_files"`
	DefaultMaxTotalLines int      `mapstructure:"default_max_total_lines" toml:"default_max_total_lines" yaml:"default_max_total_lines"`
	KeywordCap           int      `mapstructure:"keyword_cap" toml:"keyword_cap" yaml:"keyword_cap"`
	MinKeywordLength     int      `mapstructure:"min_keyword_length" toml:"min_keyword_length" yaml:"min_keyword_length"`
	StopWords            []string `mapstructure:"stop_words" toml:"stop_words" yaml:"stop_words"`
	RangeSizeSoftMax     int      `mapstructure:"range_size_soft_max" toml:"range_size_soft_max" yaml:"range_size_soft_max"`
	TopSkippedLimit      int      `mapstructure:"top_skipped_limit" toml:"top_skipped_limit" yaml:"top_skipped_limit"`
}

// AdaptersConfig toggles which language adapters are enabled.
type AdaptersConfig struct {
	Python  bool `mapstructure:"python" toml:"python" yaml:"python"`
	Lexical bool `mapstructure:"lexical" toml:"lexical" yaml:"lexical"`
}

// LoggingConfig controls the structured logging factory.
type LoggingConfig struct {
	Level      string `mapstructure:"level" toml:"level" yaml:"level"`
	MaxSize    string `mapstructure:"max_size" toml:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
}

// AuditConfig controls the append-only audit.jsonl writer's rotation.
type AuditConfig struct {
	MaxSize    string `mapstructure:"max_size" toml:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
}

const schemaVersion = 1

// Default returns reposcope's compiled-in configuration.
func Default() *Config {
	return &Config{
		Version:  schemaVersion,
		RepoRoot: ".",
		DataDir:  ".reposcope",
		Discovery: DiscoveryConfig{
			IncludeExtensions: []string{
				".py", ".ts", ".tsx", ".js", ".jsx", ".java", ".go", ".rs", ".cpp", ".cc",
				".h", ".hpp", ".cs", ".md", ".txt", ".json", ".yaml", ".yml", ".toml",
			},
			ExcludeGlobs:  []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/dist/**", "**/build/**"},
			TestGlobs:     []string{"**/*_test.*", "**/test_*.*", "**/tests/**", "**/*.test.*", "**/*.spec.*"},
			IncludeHidden: false,
			ExtraDenylist: nil,
		},
		Chunking: ChunkingConfig{
			WindowLines:  200,
			OverlapLines: 30,
			ChunkVersion: 1,
		},
		Limits: LimitsConfig{
			MaxFileBytes:             4 * 1024 * 1024,
			MaxOpenLines:             2000,
			MaxTotalBytesPerResponse: 1024 * 1024,
			MaxSearchHits:            200,
			MaxReferences:            200,
			IndexRefreshTimeoutMs:    120_000,
		},
		Search: SearchConfig{DefaultTopK: 20},
		Bundler: BundlerConfig{
			DefaultMaxFiles:      10,
			DefaultMaxTotalLines: 400,
			KeywordCap:           12,
			MinKeywordLength:     3,
			StopWords:            defaultStopWords,
			RangeSizeSoftMax:     120,
			TopSkippedLimit:      10,
		},
		Adapters: AdaptersConfig{Python: true, Lexical: true},
		Logging:  LoggingConfig{Level: "info", MaxSize: "", MaxBackups: 3},
		Audit:    AuditConfig{MaxSize: "10MB", MaxBackups: 5},
	}
}

// defaultStopWords is the fixed, committed English stop-word list used by
// the Bundler's keyword extraction step (spec Open Question: stop-word list
// and N=12 cap are chosen defaults, committed here as a fixed constant).
var defaultStopWords = []string{
	"a", "about", "above", "after", "again", "all", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below",
	"between", "both", "but", "by", "can", "did", "do", "does", "doing",
	"down", "during", "each", "few", "for", "from", "further", "had", "has",
	"have", "having", "he", "her", "here", "hers", "herself", "him",
	"himself", "his", "how", "i", "if", "in", "into", "is", "it", "its",
	"itself", "just", "me", "more", "most", "my", "myself", "no", "nor",
	"not", "now", "of", "off", "on", "once", "only", "or", "other", "our",
	"ours", "ourselves", "out", "over", "own", "please", "s", "same", "she",
	"should", "so", "some", "such", "t", "than", "that", "the", "their",
	"theirs", "them", "themselves", "then", "there", "these", "they", "this",
	"those", "through", "to", "too", "under", "until", "up", "very", "was",
	"we", "were", "what", "when", "where", "which", "while", "who", "whom",
	"why", "will", "with", "you", "your",
}

// Load assembles the effective configuration for repoRoot: defaults, then
// .reposcope.toml (preferred) or .reposcope.yaml, then REPOSCOPE_*
// environment variables. CLI flags are applied afterward by the caller
// (cmd/reposcope's loadEffectiveConfig), since cobra owns flag parsing.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()
	cfg.RepoRoot = repoRoot

	tomlPath := filepath.Join(repoRoot, ".reposcope.toml")
	yamlPath := filepath.Join(repoRoot, ".reposcope.yaml")

	switch {
	case fileExists(tomlPath):
		if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tomlPath, err)
		}
	case fileExists(yamlPath):
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", yamlPath, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("REPOSCOPE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnv(v, "data_dir")
	bindEnv(v, "logging.level")
	bindEnv(v, "limits.max_file_bytes")
	bindEnv(v, "limits.max_open_lines")
	bindEnv(v, "limits.max_search_hits")
	bindEnv(v, "limits.max_references")
	bindEnv(v, "search.default_top_k")
	bindEnv(v, "bundler.default_max_files")
	bindEnv(v, "bundler.default_max_total_lines")

	if s := v.GetString("data_dir"); s != "" {
		cfg.DataDir = s
	}
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = s
	}
	if n := v.GetInt64("limits.max_file_bytes"); n != 0 {
		cfg.Limits.MaxFileBytes = n
	}
	if n := v.GetInt("limits.max_open_lines"); n != 0 {
		cfg.Limits.MaxOpenLines = n
	}
	if n := v.GetInt("limits.max_search_hits"); n != 0 {
		cfg.Limits.MaxSearchHits = n
	}
	if n := v.GetInt("limits.max_references"); n != 0 {
		cfg.Limits.MaxReferences = n
	}
	if n := v.GetInt("search.default_top_k"); n != 0 {
		cfg.Search.DefaultTopK = n
	}
	if n := v.GetInt("bundler.default_max_files"); n != 0 {
		cfg.Bundler.DefaultMaxFiles = n
	}
	if n := v.GetInt("bundler.default_max_total_lines"); n != 0 {
		cfg.Bundler.DefaultMaxTotalLines = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper, key string) {
	_ = v.BindEnv(key)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteStarterTOML marshals a default configuration to path using
// pelletier/go-toml/v2, used by `reposcope init`.
func WriteStarterTOML(path string, cfg *Config) error {
	data, err := tomlenc.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks internal consistency of the effective config.
func (c *Config) Validate() error {
	if c.Version != schemaVersion {
		return &ValidationError{Field: "version", Message: fmt.Sprintf("unsupported config version %d, want %d", c.Version, schemaVersion)}
	}
	if c.Chunking.WindowLines <= 0 {
		return &ValidationError{Field: "chunking.window_lines", Message: "must be positive"}
	}
	if c.Chunking.OverlapLines < 0 || c.Chunking.OverlapLines >= c.Chunking.WindowLines {
		return &ValidationError{Field: "chunking.overlap_lines", Message: "must be >= 0 and less than window_lines"}
	}
	if c.Limits.MaxFileBytes <= 0 {
		return &ValidationError{Field: "limits.max_file_bytes", Message: "must be positive"}
	}
	return nil
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Message)
}
