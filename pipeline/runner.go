package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EvnyaGH/NewsAICopy/config"
	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/normalizer"
	"github.com/EvnyaGH/NewsAICopy/types"
)

const previewTitles = 5

// Runner chains the fetch, normalize+validate and persist stages for one
// loaded configuration.
type Runner struct {
	Config    *config.Config
	Fetcher   Fetcher
	Extractor normalizer.TextExtractor // used when arxiv.extract_text is set
	Archiver  Archiver                 // optional
	Reports   ReportStore              // optional
	Logger    *logger.Logger

	// Store is opened with OpenStore on first use when nil.
	Store  PaperStore
	Getenv config.Getenv

	now     func() time.Time
	traceID func() string
}

// Run executes one ingestion run. The report is returned on failure too.
func (r *Runner) Run(ctx context.Context) (*types.RunReport, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}
	traceID := uuid.New().String()
	if r.traceID != nil {
		traceID = r.traceID()
	}

	cfg := r.Config
	log := r.Logger.WithTraceID(traceID)
	report := &types.RunReport{
		TraceID:    traceID,
		Status:     types.StatusFailed,
		Query:      cfg.Arxiv.SearchQuery,
		Start:      cfg.Arxiv.Start,
		MaxResults: cfg.Arxiv.MaxResults,
		StartedAt:  now().UTC(),
	}

	log.Info("Ingestion run started", map[string]interface{}{
		"search_query": cfg.Arxiv.SearchQuery,
		"start":        cfg.Arxiv.Start,
		"max_results":  cfg.Arxiv.MaxResults,
	})

	err := r.run(ctx, cfg, report, log)

	report.FinishedAt = now().UTC()
	report.DurationMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	if err != nil {
		report.FailedStage = FailedStage(err)
		report.Error = err.Error()
		log.Error("Ingestion run failed", err, map[string]interface{}{"stage": report.FailedStage})
	} else {
		report.Status = types.StatusSuccess
		log.InfoWithDuration("Ingestion run completed", time.Duration(report.DurationMs)*time.Millisecond, map[string]interface{}{
			"written":   report.Written,
			"load_rate": report.LoadRate(),
		})
	}

	r.cleanup(cfg, log)
	if r.Reports != nil {
		if saveErr := r.Reports.SaveReport(ctx, *report); saveErr != nil {
			log.Warn("Failed to save run report", map[string]interface{}{"error": saveErr.Error()})
		}
	}

	return report, err
}

func (r *Runner) run(ctx context.Context, cfg *config.Config, report *types.RunReport, log *logger.Logger) error {
	if cfg.Arxiv.ExtractText {
		if err := cfg.EnsureTmpDir(); err != nil {
			return stageError(StageNormalize, logger.ErrorTypeInternal, "failed to prepare tmp dir", err)
		}
	}

	fetched, err := Fetch(ctx, cfg, r.Fetcher, r.Archiver, log)
	if fetched != nil {
		report.Fetched = fetched.Summary.EntryCount
		report.Checksum = fetched.Summary.Checksum
		report.ArchiveKey = fetched.Summary.S3Key
	}
	if err != nil {
		return err
	}

	validated, err := NormalizeAndValidate(ctx, cfg, fetched.Entries, r.Extractor, log)
	if validated != nil {
		p := validated.Partition
		report.Normalized = p.Total
		report.NormalizeFailed = validated.Failed
		report.Valid = p.ValidCount()
		report.Invalid = p.InvalidCount()
		report.QualityRate = p.QualityRate
		report.Titles = TitlePreview(p.Valid, previewTitles)
	}
	if err != nil {
		return err
	}

	store := r.Store
	if store == nil {
		getenv := r.Getenv
		if getenv == nil {
			getenv = func(string) string { return "" }
		}
		opened, closeStore, err := OpenStore(ctx, cfg, getenv, log)
		if err != nil {
			return err
		}
		defer closeStore()
		store = opened
	}

	saved, err := Persist(ctx, store, validated.Records(), log)
	report.Attempts = saved.Attempts
	report.Duplicates = saved.Dedup.DuplicateCount
	if err != nil {
		return err
	}
	report.Written = saved.Written
	return nil
}

func (r *Runner) cleanup(cfg *config.Config, log *logger.Logger) {
	if !cfg.Arxiv.ExtractText || !cfg.Runtime.CleanupTmp {
		return
	}
	removed, err := normalizer.CleanupPDFs(cfg.Runtime.TmpDir)
	if err != nil {
		log.Warn("Temp file cleanup failed", map[string]interface{}{
			"tmp_dir": cfg.Runtime.TmpDir,
			"error":   err.Error(),
		})
		return
	}
	log.Debug("Temp files removed", map[string]interface{}{"count": removed})
}
