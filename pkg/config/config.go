package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/deltaflow/pkg/errors"
)

// Keys of the run configuration, shared by the YAML file, DELTAFLOW_*
// environment variables and command-line flags.
const (
	KeyPrefix             = "table.prefix"
	KeySaveMode           = "table.save_mode"
	KeySourcePath         = "source.path"
	KeyDelimiter          = "source.delimiter"
	KeyPreviewRows        = "source.preview_rows"
	KeySourceAlias        = "merge.source_alias"
	KeyNotMatchedBySource = "merge.not_matched_by_source"
	KeyTimeout            = "run.timeout"
	KeyLogLevel           = "log.level"
	KeyLogEncoding        = "log.encoding"
	KeyLogDevelopment     = "log.development"
	KeyMetrics            = "observability.metrics"
	KeyTracing            = "observability.tracing"
)

// EnvPrefix namespaces the run configuration environment variables, e.g.
// DELTAFLOW_SOURCE_PATH.
const EnvPrefix = "DELTAFLOW"

// RunConfig holds the settings of a single create + merge run.
type RunConfig struct {
	Table         TableConfig         `mapstructure:"table" yaml:"table"`
	Source        SourceConfig        `mapstructure:"source" yaml:"source"`
	Merge         MergeConfig         `mapstructure:"merge" yaml:"merge"`
	Run           ExecutionConfig     `mapstructure:"run" yaml:"run"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// TableConfig controls where and how the table is provisioned.
type TableConfig struct {
	// Prefix is the fixed path segment between the bucket and the random id
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	// SaveMode is one of error_if_exists, overwrite, ignore
	SaveMode string `mapstructure:"save_mode" yaml:"save_mode"`
}

// SourceConfig describes the delimited dataset to merge.
type SourceConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Delimiter   string `mapstructure:"delimiter" yaml:"delimiter"`
	PreviewRows int    `mapstructure:"preview_rows" yaml:"preview_rows"`
}

// MergeConfig holds the merge clause settings that are not fixed by the
// workflow itself.
type MergeConfig struct {
	SourceAlias string `mapstructure:"source_alias" yaml:"source_alias"`
	// NotMatchedBySource is one of ignore, delete
	NotMatchedBySource string `mapstructure:"not_matched_by_source" yaml:"not_matched_by_source"`
}

// ExecutionConfig bounds the whole run.
type ExecutionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// ObservabilityConfig toggles metrics output and tracing.
type ObservabilityConfig struct {
	Metrics bool `mapstructure:"metrics" yaml:"metrics"`
	Tracing bool `mapstructure:"tracing" yaml:"tracing"`
}

// SetDefaults registers the default run configuration on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPrefix, "minimal_example")
	v.SetDefault(KeySaveMode, "error_if_exists")
	v.SetDefault(KeySourcePath, "minimal.csv")
	v.SetDefault(KeyDelimiter, ";")
	v.SetDefault(KeyPreviewRows, 50)
	v.SetDefault(KeySourceAlias, "source")
	v.SetDefault(KeyNotMatchedBySource, "ignore")
	v.SetDefault(KeyTimeout, 30*time.Minute)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogEncoding, "console")
	v.SetDefault(KeyLogDevelopment, false)
	v.SetDefault(KeyMetrics, false)
	v.SetDefault(KeyTracing, false)
}

// NewViper returns a viper instance with defaults and DELTAFLOW_* env
// binding. When file is non-empty it is read as the base layer.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read run configuration").
				WithDetail("file", file)
		}
	}
	return v, nil
}

// LoadRunConfig decodes and validates the run configuration held by v.
func LoadRunConfig(v *viper.Viper) (*RunConfig, error) {
	var cfg RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode run configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the run configuration is internally consistent.
func (c *RunConfig) Validate() error {
	if strings.Trim(c.Table.Prefix, "/") == "" {
		return errors.New(errors.ErrorTypeValidation, "table prefix must not be empty")
	}
	switch c.Table.SaveMode {
	case "error_if_exists", "overwrite", "ignore":
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown save mode %q", c.Table.SaveMode)
	}
	if c.Source.Path == "" {
		return errors.New(errors.ErrorTypeValidation, "source path must not be empty")
	}
	if utf8.RuneCountInString(c.Source.Delimiter) != 1 {
		return errors.Newf(errors.ErrorTypeValidation, "delimiter must be a single character, got %q", c.Source.Delimiter)
	}
	if c.Source.PreviewRows < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "preview rows must be >= 0, got %d", c.Source.PreviewRows)
	}
	if c.Merge.SourceAlias == "" {
		return errors.New(errors.ErrorTypeValidation, "source alias must not be empty")
	}
	switch c.Merge.NotMatchedBySource {
	case "ignore", "delete":
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown not-matched-by-source action %q", c.Merge.NotMatchedBySource)
	}
	if c.Run.Timeout <= 0 {
		return errors.New(errors.ErrorTypeValidation, "run timeout must be positive")
	}
	return nil
}

// DelimiterRune returns the single delimiter character.
func (c *RunConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Source.Delimiter)
	return r
}

// String is a compact summary for logs.
func (c *RunConfig) String() string {
	return fmt.Sprintf("prefix=%s source=%s delimiter=%q save_mode=%s", c.Table.Prefix, c.Source.Path, c.Source.Delimiter, c.Table.SaveMode)
}
