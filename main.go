package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/EvnyaGH/NewsAICopy/arxiv"
	"github.com/EvnyaGH/NewsAICopy/config"
	"github.com/EvnyaGH/NewsAICopy/dynamodb"
	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/normalizer"
	"github.com/EvnyaGH/NewsAICopy/pipeline"
	"github.com/EvnyaGH/NewsAICopy/s3"
	"github.com/EvnyaGH/NewsAICopy/types"
)

var (
	appLogger    *logger.Logger
	errorHandler *logger.ErrorHandler
)

func init() {
	appLogger = logger.New("arxiv-ingestor")
	errorHandler = logger.NewErrorHandler(appLogger)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLogger.Warn("Failed to load .env file", map[string]interface{}{"error": err.Error()})
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(handleLambda)
		return
	}

	fmt.Println("arXiv Ingestor - Local Mode")
	if err := runLocal(context.Background(), os.Args[1:], os.Stdout); err != nil {
		appLogger.Error("Local run failed", err)
		os.Exit(1)
	}
}

// Event is the Lambda input. Unset fields keep the configured values.
type Event struct {
	SearchQuery string `json:"search_query,omitempty"`
	Start       *int   `json:"start,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	ExtractText *bool  `json:"extract_text,omitempty"`
}

func (e Event) apply(cfg *config.Config) {
	if q := strings.TrimSpace(e.SearchQuery); q != "" {
		cfg.Arxiv.SearchQuery = q
	}
	if e.Start != nil {
		cfg.Arxiv.Start = *e.Start
	}
	if e.MaxResults > 0 {
		cfg.Arxiv.MaxResults = e.MaxResults
	}
	if e.ExtractText != nil {
		cfg.Arxiv.ExtractText = *e.ExtractText
	}
}

func handleLambda(ctx context.Context, event Event) (report *types.RunReport, err error) {
	defer func() { err = errorHandler.Recover(recover(), "lambda handler", err) }()

	contextLogger := appLogger.WithContext(ctx)
	contextLogger.Info("Ingestion lambda handler started")

	cfg, err := pipeline.LoadConfig(ctx, configSource(os.Getenv), os.Getenv, contextLogger)
	if err != nil {
		return nil, errorHandler.Handle(err, "load configuration")
	}
	event.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errorHandler.Handle(logger.WrapError(err, logger.ErrorTypeConfig, "invalid event override"), "load configuration")
	}
	applyLogLevel(cfg, os.Getenv)

	report, err = newRunner(cfg, contextLogger).Run(ctx)
	if err != nil {
		return report, errorHandler.Handle(err, "ingestion run")
	}
	return report, nil
}

// cliOptions holds the local-mode flags; the set map records which were given.
type cliOptions struct {
	configPath  string
	query       string
	start       int
	maxResults  int
	extractText bool
	replayKey   string
	set         map[string]bool
}

func parseFlags(args []string, getenv config.Getenv) (*cliOptions, error) {
	opts := &cliOptions{set: map[string]bool{}}
	flags := flag.NewFlagSet("arxiv-ingestor", flag.ContinueOnError)
	defaultPath := getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = config.DefaultConfigPath
	}
	flags.StringVar(&opts.configPath, "config", defaultPath, "path to the YAML config file")
	flags.StringVar(&opts.query, "query", "", "arXiv search_query override")
	flags.IntVar(&opts.start, "start", 0, "result offset override")
	flags.IntVar(&opts.maxResults, "max-results", 0, "page size override")
	flags.BoolVar(&opts.extractText, "extract-text", false, "download PDFs and extract their text")
	flags.StringVar(&opts.replayKey, "replay", "", "S3 key of an archived feed to ingest instead of fetching")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	flags.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

func (o *cliOptions) apply(cfg *config.Config) {
	if o.set["query"] {
		cfg.Arxiv.SearchQuery = o.query
	}
	if o.set["start"] {
		cfg.Arxiv.Start = o.start
	}
	if o.set["max-results"] {
		cfg.Arxiv.MaxResults = o.maxResults
	}
	if o.set["extract-text"] {
		cfg.Arxiv.ExtractText = o.extractText
	}
}

func runLocal(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, os.Getenv)
	if err != nil {
		return err
	}

	src := configSource(os.Getenv)
	src.Path = opts.configPath
	cfg, err := pipeline.LoadConfig(ctx, src, os.Getenv, appLogger)
	if err != nil {
		return fmt.Errorf("local run failed: %w", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return logger.WrapError(err, logger.ErrorTypeConfig, "invalid flag override")
	}
	applyLogLevel(cfg, os.Getenv)

	runner := newRunner(cfg, appLogger)
	if opts.replayKey != "" {
		archiver, err := s3.NewArchiver(cfg.AWS.Region, cfg.AWS.S3.RawDataBucket, cfg.AWS.S3.RawDataPrefix)
		if err != nil {
			return logger.WrapError(err, logger.ErrorTypeS3, "failed to initialize S3 archiver")
		}
		runner.Fetcher = &replayFetcher{loader: archiver, key: opts.replayKey}
		runner.Archiver = nil
	}

	report, err := runner.Run(ctx)
	if report != nil {
		fmt.Fprint(out, pipeline.FormatReport(*report))
	}
	return err
}

func configSource(getenv config.Getenv) pipeline.ConfigSource {
	path := getenv("CONFIG_PATH")
	if path == "" {
		path = config.DefaultConfigPath
	}
	return pipeline.ConfigSource{
		Path:   path,
		Bucket: getenv("CONFIG_BUCKET"),
		Key:    getenv("CONFIG_KEY"),
	}
}

// applyLogLevel uses logging.level unless LOG_LEVEL is set.
func applyLogLevel(cfg *config.Config, getenv config.Getenv) {
	if getenv("LOG_LEVEL") == "" && cfg.Logging.Level != "" {
		appLogger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	}
}

func newRunner(cfg *config.Config, log *logger.Logger) *pipeline.Runner {
	client := arxiv.NewClient(cfg.Arxiv.BaseURL,
		arxiv.WithTimeout(time.Duration(cfg.Arxiv.TimeoutSeconds)*time.Second),
		arxiv.WithUserAgent(cfg.Arxiv.UserAgent),
		arxiv.WithMinInterval(time.Duration(cfg.Arxiv.MinIntervalMs)*time.Millisecond),
	)

	runner := &pipeline.Runner{
		Config:  cfg,
		Fetcher: client,
		Logger:  log,
		Getenv:  os.Getenv,
	}
	if cfg.Arxiv.ExtractText {
		runner.Extractor = normalizer.NewPDFExtractor(client, cfg.Runtime.TmpDir)
	}

	if bucket := cfg.AWS.S3.RawDataBucket; bucket != "" {
		archiver, err := s3.NewArchiver(cfg.AWS.Region, bucket, cfg.AWS.S3.RawDataPrefix)
		if err != nil {
			log.Warn("Raw feed archive disabled", map[string]interface{}{"error": err.Error()})
		} else {
			runner.Archiver = archiver
		}
	}
	if table := cfg.AWS.DynamoDB.ReportsTable; table != "" {
		reports, err := dynamodb.NewReportStore(cfg.AWS.Region, table, log)
		if err != nil {
			log.Warn("Run report store disabled", map[string]interface{}{"error": err.Error()})
		} else {
			runner.Reports = reports
		}
	}
	return runner
}

type feedLoader interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// replayFetcher serves an archived feed page in place of the live API.
type replayFetcher struct {
	loader feedLoader
	key    string
}

func (f *replayFetcher) Fetch(ctx context.Context, params arxiv.SearchParams) (*arxiv.FetchResult, error) {
	started := time.Now()
	body, err := f.loader.Load(ctx, f.key)
	if err != nil {
		return nil, &arxiv.FetchError{URL: f.key, Err: err}
	}
	return &arxiv.FetchResult{
		URL:        f.key,
		Body:       body,
		StatusCode: 200,
		Duration:   time.Since(started),
		FetchedAt:  started.UTC(),
	}, nil
}
