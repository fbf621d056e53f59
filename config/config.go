package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config.yaml"
	DefaultBaseURL    = "http://export.arxiv.org/api/query"
	DefaultUserAgent  = "ai-engine/0.1"
	DefaultTable      = "arxiv_papers"
	DefaultTmpDir     = "/tmp/arxiv_etl"
)

var (
	ErrMissingBaseURL      = errors.New("arxiv.base_url is required")
	ErrMissingSearchQuery  = errors.New("arxiv.search_query is required")
	ErrInvalidMaxResults   = errors.New("arxiv.max_results must be at least 1")
	ErrInvalidStart        = errors.New("arxiv.start must not be negative")
	ErrMissingFieldMapping = errors.New("field_mapping must not be empty")
	ErrInvalidQualityRate  = errors.New("quality.min_quality_rate must be within [0, 100]")
	ErrInvalidValidCount   = errors.New("quality.min_valid_count must not be negative")
	ErrInvalidRetry        = errors.New("database.retry requires max_attempts >= 1 and multiplier >= 1")
	ErrInvalidDate         = errors.New("arxiv.date_from and arxiv.date_to must use YYYY-MM-DD")
)

// Config represents the complete ingestion configuration
type Config struct {
	Arxiv        ArxivConfig       `yaml:"arxiv"`
	FieldMapping map[string]string `yaml:"field_mapping"`
	Database     DatabaseConfig    `yaml:"database"`
	Quality      QualityConfig     `yaml:"quality"`
	Runtime      RuntimeConfig     `yaml:"runtime"`
	AWS          AWSConfig         `yaml:"aws"`
	Logging      LoggingConfig     `yaml:"logging"`
}

// ArxivConfig describes the upstream feed query
type ArxivConfig struct {
	BaseURL        string `yaml:"base_url"`
	SearchQuery    string `yaml:"search_query"`
	Start          int    `yaml:"start"`
	MaxResults     int    `yaml:"max_results"`
	ExtractText    bool   `yaml:"extract_text"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MinIntervalMs  int    `yaml:"min_interval_ms"` // arXiv asks for at most one request every 3s
	UserAgent      string `yaml:"user_agent"`
	DateFrom       string `yaml:"date_from,omitempty"` // Format: YYYY-MM-DD
	DateTo         string `yaml:"date_to,omitempty"`   // Format: YYYY-MM-DD
}

// DatabaseConfig represents the Postgres target
type DatabaseConfig struct {
	PostgresURL             string      `yaml:"postgres_url"`
	Table                   string      `yaml:"table"`
	StatementTimeoutSeconds int         `yaml:"statement_timeout_seconds"`
	SkipSchemaBootstrap     bool        `yaml:"skip_schema_bootstrap"`
	Retry                   RetryConfig `yaml:"retry"`
}

// RetryConfig is the retry policy for transient database failures
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
}

// QualityConfig holds the quality gate thresholds
type QualityConfig struct {
	MinQualityRate float64 `yaml:"min_quality_rate"`
	MinValidCount  int     `yaml:"min_valid_count"`
}

// RuntimeConfig represents local runtime settings
type RuntimeConfig struct {
	TmpDir     string `yaml:"tmp_dir"`
	CleanupTmp bool   `yaml:"cleanup_tmp"`
}

// AWSConfig represents optional AWS integrations
type AWSConfig struct {
	Region   string         `yaml:"region"`
	S3       S3Config       `yaml:"s3"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// S3Config represents S3 configuration
type S3Config struct {
	RawDataBucket string `yaml:"raw_data_bucket"`
	RawDataPrefix string `yaml:"raw_data_prefix"`
}

// DynamoDBConfig represents DynamoDB configuration
type DynamoDBConfig struct {
	ReportsTable string `yaml:"reports_table"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Manager handles configuration loading from local files or S3
type Manager struct {
	s3Client s3iface.S3API
}

// NewManager creates a configuration manager backed by an S3 client in region.
func NewManager(region string) (*Manager, error) {
	if region == "" {
		region = "us-east-1"
	}
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &Manager{
		s3Client: s3.New(sess),
	}, nil
}

// NewManagerWithClient creates a manager with a custom S3 client (for testing)
func NewManagerWithClient(client s3iface.S3API) *Manager {
	return &Manager{s3Client: client}
}

// LoadFromS3 loads configuration from S3
func (m *Manager) LoadFromS3(ctx context.Context, bucket, key string) (*Config, error) {
	if m.s3Client == nil {
		return nil, errors.New("config manager has no S3 client")
	}

	result, err := m.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get config from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	return m.parseConfig(data)
}

// LoadFromFile loads configuration from a local YAML file
func (m *Manager) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	return m.parseConfig(data)
}

// LoadFromBytes loads configuration from byte data
func (m *Manager) LoadFromBytes(data []byte) (*Config, error) {
	return m.parseConfig(data)
}

// LoadFromFile is a convenience wrapper for callers without AWS access.
func LoadFromFile(path string) (*Config, error) {
	return (&Manager{}).LoadFromFile(path)
}

// parseConfig decodes YAML on top of the defaults, so absent keys keep their
// default values. The field mapping is replaced, not merged.
func (m *Manager) parseConfig(data []byte) (*Config, error) {
	config := GetDefaultConfig()
	defaultMapping := config.FieldMapping
	config.FieldMapping = nil

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if len(config.FieldMapping) == 0 {
		config.FieldMapping = defaultMapping
	}
	config.Arxiv.BaseURL = strings.TrimSpace(config.Arxiv.BaseURL)
	config.Arxiv.SearchQuery = strings.TrimSpace(config.Arxiv.SearchQuery)

	return config, nil
}

// Validate checks the fields every run depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Arxiv.BaseURL == "" {
		errs = append(errs, ErrMissingBaseURL)
	}
	if c.Arxiv.SearchQuery == "" {
		errs = append(errs, ErrMissingSearchQuery)
	}
	if c.Arxiv.MaxResults < 1 {
		errs = append(errs, ErrInvalidMaxResults)
	}
	if c.Arxiv.Start < 0 {
		errs = append(errs, ErrInvalidStart)
	}
	if len(c.FieldMapping) == 0 {
		errs = append(errs, ErrMissingFieldMapping)
	}
	if c.Quality.MinQualityRate < 0 || c.Quality.MinQualityRate > 100 {
		errs = append(errs, ErrInvalidQualityRate)
	}
	if c.Quality.MinValidCount < 0 {
		errs = append(errs, ErrInvalidValidCount)
	}
	for _, d := range []string{c.Arxiv.DateFrom, c.Arxiv.DateTo} {
		if _, err := ParseDate(d); err != nil {
			errs = append(errs, ErrInvalidDate)
			break
		}
	}
	if c.Database.Retry.MaxAttempts < 1 || c.Database.Retry.Multiplier < 1 {
		errs = append(errs, ErrInvalidRetry)
	}
	return errors.Join(errs...)
}

// ParseDate parses an optional YYYY-MM-DD value. Empty input yields nil.
func ParseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EnsureTmpDir creates runtime.tmp_dir when it is set.
func (c *Config) EnsureTmpDir() error {
	if c.Runtime.TmpDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Runtime.TmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create tmp dir %q: %w", c.Runtime.TmpDir, err)
	}
	return nil
}

// DefaultFieldMapping maps record fields to entry paths.
func DefaultFieldMapping() map[string]string {
	return map[string]string{
		"id":               "id",
		"arxiv_id":         "id",
		"title":            "title",
		"summary":          "summary",
		"published_at":     "published",
		"updated_at":       "updated",
		"journal_ref":      "arxiv:journal_ref",
		"doi":              "arxiv:doi",
		"comment":          "arxiv:comment",
		"primary_category": "arxiv:primary_category.@term",
		"pdf_url":          "link",
	}
}

// GetDefaultConfig returns the configuration used when a key is not set
func GetDefaultConfig() *Config {
	return &Config{
		Arxiv: ArxivConfig{
			BaseURL:        DefaultBaseURL,
			SearchQuery:    "cat:cs.AI",
			Start:          0,
			MaxResults:     50,
			ExtractText:    false,
			TimeoutSeconds: 30,
			MinIntervalMs:  3000,
			UserAgent:      DefaultUserAgent,
		},
		FieldMapping: DefaultFieldMapping(),
		Database: DatabaseConfig{
			Table:                   DefaultTable,
			StatementTimeoutSeconds: 60,
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelayMs: 1000,
				Multiplier:  2,
				MaxDelayMs:  8000,
			},
		},
		Quality: QualityConfig{
			MinQualityRate: 80.0,
			MinValidCount:  1,
		},
		Runtime: RuntimeConfig{
			TmpDir:     DefaultTmpDir,
			CleanupTmp: true,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
			S3: S3Config{
				RawDataPrefix: "raw-data/arxiv",
			},
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
