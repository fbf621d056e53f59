package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/EvnyaGH/NewsAICopy/arxiv"
	"github.com/EvnyaGH/NewsAICopy/config"
	"github.com/EvnyaGH/NewsAICopy/feed"
	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/normalizer"
	"github.com/EvnyaGH/NewsAICopy/persistence"
	"github.com/EvnyaGH/NewsAICopy/quality"
	"github.com/EvnyaGH/NewsAICopy/retry"
	archive "github.com/EvnyaGH/NewsAICopy/s3"
	"github.com/EvnyaGH/NewsAICopy/types"
)

// Fetcher retrieves one feed page
type Fetcher interface {
	Fetch(ctx context.Context, params arxiv.SearchParams) (*arxiv.FetchResult, error)
}

// Archiver stores the raw feed page
type Archiver interface {
	Archive(ctx context.Context, raw []byte, summary types.FetchSummary) (*archive.ArchiveResult, error)
}

// PaperStore persists validated records
type PaperStore interface {
	SavePapers(ctx context.Context, records []types.Record) (persistence.SaveResult, error)
}

// ReportStore persists run reports
type ReportStore interface {
	SaveReport(ctx context.Context, report types.RunReport) error
}

// ConfigSource says where LoadConfig reads from. An S3 location wins over Path.
type ConfigSource struct {
	Path    string
	Bucket  string
	Key     string
	Manager *config.Manager
}

// LoadConfig reads the configuration, applies environment overrides and
// validates the result.
func LoadConfig(ctx context.Context, src ConfigSource, getenv config.Getenv, log *logger.Logger) (*config.Config, error) {
	log = log.WithStage(StageLoadConfig)

	var (
		cfg    *config.Config
		err    error
		source string
	)
	switch {
	case src.Bucket != "" && src.Key != "":
		source = "s3://" + src.Bucket + "/" + src.Key
		manager := src.Manager
		if manager == nil {
			manager, err = config.NewManager(getenv("AWS_REGION"))
			if err != nil {
				return nil, stageError(StageLoadConfig, logger.ErrorTypeConfig, "failed to create config manager", err)
			}
		}
		cfg, err = manager.LoadFromS3(ctx, src.Bucket, src.Key)
	case src.Path != "":
		source = src.Path
		cfg, err = config.LoadFromFile(src.Path)
		if errors.Is(err, fs.ErrNotExist) && src.Path == config.DefaultConfigPath {
			log.Warn("Config file not found, using default configuration", map[string]interface{}{
				"path": src.Path,
			})
			cfg, err = config.GetDefaultConfig(), nil
			source = "defaults"
		}
	default:
		source = "defaults"
		cfg = config.GetDefaultConfig()
	}
	if err != nil {
		return nil, stageError(StageLoadConfig, logger.ErrorTypeConfig, "failed to load configuration", err)
	}

	overrides := cfg.ApplyEnvOverrides(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, stageError(StageLoadConfig, logger.ErrorTypeConfig, "invalid configuration", err)
	}

	log.Info("Configuration loaded successfully", map[string]interface{}{
		"source":       source,
		"overrides":    overrides,
		"search_query": cfg.Arxiv.SearchQuery,
		"start":        cfg.Arxiv.Start,
		"max_results":  cfg.Arxiv.MaxResults,
		"extract_text": cfg.Arxiv.ExtractText,
	})
	return cfg, nil
}

// FetchOutput is the parsed feed page handed to normalization.
type FetchOutput struct {
	Entries feed.List
	Raw     []byte
	Summary types.FetchSummary
}

// Fetch retrieves and parses one feed page. An empty page is fatal. When
// archiver is non-nil the raw page is archived; archive failures only warn.
func Fetch(ctx context.Context, cfg *config.Config, fetcher Fetcher, archiver Archiver, log *logger.Logger) (*FetchOutput, error) {
	log = log.WithStage(StageFetch)

	dateFrom, _ := config.ParseDate(cfg.Arxiv.DateFrom)
	dateTo, _ := config.ParseDate(cfg.Arxiv.DateTo)
	params := arxiv.SearchParams{
		Query:      cfg.Arxiv.SearchQuery,
		Start:      cfg.Arxiv.Start,
		MaxResults: cfg.Arxiv.MaxResults,
		DateFrom:   dateFrom,
		DateTo:     dateTo,
	}

	result, err := fetcher.Fetch(ctx, params)
	if err != nil {
		return nil, stageError(StageFetch, logger.ErrorTypeAPI, "arXiv API request failed", err)
	}
	log.InfoWithDuration("arXiv API request completed", result.Duration, map[string]interface{}{
		"url":    result.URL,
		"status": result.StatusCode,
		"bytes":  len(result.Body),
	})

	doc, err := feed.Parse(result.Body)
	if err != nil {
		return nil, stageError(StageFetch, logger.ErrorTypeAPI, "failed to parse feed", err)
	}
	entries := feed.Entries(doc)

	out := &FetchOutput{
		Entries: entries,
		Raw:     result.Body,
		Summary: types.FetchSummary{
			URL:        result.URL,
			Query:      params.Query,
			Start:      params.Start,
			MaxResults: params.MaxResults,
			EntryCount: len(entries),
			Bytes:      len(result.Body),
			Checksum:   archive.Checksum(result.Body),
			FetchedAt:  result.FetchedAt,
		},
	}

	if archiver != nil {
		archived, err := archiver.Archive(ctx, result.Body, out.Summary)
		if err != nil {
			log.Warn("Raw feed archive failed", map[string]interface{}{"error": err.Error()})
		} else {
			out.Summary.S3Key = archived.S3Key
			log.Info("Raw feed archived", map[string]interface{}{
				"s3_key":          archived.S3Key,
				"compressed_size": archived.CompressedSize,
				"original_size":   archived.OriginalSize,
			})
		}
	}

	if len(entries) == 0 {
		return out, stageError(StageFetch, logger.ErrorTypeData, "empty result set", ErrNoEntries)
	}

	log.InfoWithCount("Feed entries retrieved", len(entries), map[string]interface{}{
		"checksum": out.Summary.Checksum,
	})
	return out, nil
}

// Validated is the outcome of normalization and the quality gate.
type Validated struct {
	Partition quality.Partition
	Failed    int // entries that could not be normalized
}

// Records returns the records that passed validation.
func (v *Validated) Records() []types.Record {
	return v.Partition.Valid
}

// NormalizeAndValidate normalizes every entry and applies the quality gate.
// The returned Validated is populated even when the gate fails.
func NormalizeAndValidate(ctx context.Context, cfg *config.Config, entries feed.List, extractor normalizer.TextExtractor, log *logger.Logger) (*Validated, error) {
	log = log.WithStage(StageNormalize)
	start := time.Now()

	n := normalizer.New(cfg.FieldMapping, cfg.Arxiv.ExtractText, extractor, log)
	result := n.NormalizeEntries(ctx, entries)
	out := &Validated{
		Partition: quality.Split(result.Records),
		Failed:    result.Failed,
	}

	log.InfoWithDuration("Normalization completed", time.Since(start), map[string]interface{}{
		"entries":      len(entries),
		"normalized":   len(result.Records),
		"failed":       result.Failed,
		"valid":        out.Partition.ValidCount(),
		"invalid":      out.Partition.InvalidCount(),
		"quality_rate": out.Partition.QualityRate,
	})

	gate := quality.Gate{
		MinQualityRate: cfg.Quality.MinQualityRate,
		MinValidCount:  cfg.Quality.MinValidCount,
	}
	if err := gate.Check(out.Partition); err != nil {
		return out, stageError(StageNormalize, logger.ErrorTypeQuality, "quality gate failed", err)
	}
	return out, nil
}

// Persist upserts the validated records.
func Persist(ctx context.Context, store PaperStore, records []types.Record, log *logger.Logger) (persistence.SaveResult, error) {
	log = log.WithStage(StagePersist)

	result, err := store.SavePapers(ctx, records)
	if err != nil {
		return result, stageError(StagePersist, logger.ErrorTypeDatabase, "failed to persist papers", err)
	}
	log.InfoWithCount("Papers persisted", result.Written, map[string]interface{}{
		"requested":  result.Requested,
		"duplicates": result.Dedup.DuplicateCount,
		"attempts":   result.Attempts,
	})
	return result, nil
}

// OpenStore connects to the database named by cfg and the environment.
// The returned close function releases the pool.
func OpenStore(ctx context.Context, cfg *config.Config, getenv config.Getenv, log *logger.Logger) (*persistence.Store, func(), error) {
	url := config.ResolvePostgresURL(cfg, getenv)
	pool, err := persistence.Connect(ctx, url)
	if err != nil {
		return nil, nil, stageError(StagePersist, logger.ErrorTypeDatabase, "failed to connect to database", err)
	}
	log.Info("Database pool created", map[string]interface{}{
		"url":   config.MaskURL(url),
		"table": cfg.Database.Table,
	})

	rc := cfg.Database.Retry
	store := persistence.NewStore(pool, persistence.Options{
		Table: cfg.Database.Table,
		Policy: retry.Policy{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   time.Duration(rc.BaseDelayMs) * time.Millisecond,
			Multiplier:  rc.Multiplier,
			MaxDelay:    time.Duration(rc.MaxDelayMs) * time.Millisecond,
		},
		StatementTimeout:    time.Duration(cfg.Database.StatementTimeoutSeconds) * time.Second,
		SkipSchemaBootstrap: cfg.Database.SkipSchemaBootstrap,
	}, log)
	return store, pool.Close, nil
}
