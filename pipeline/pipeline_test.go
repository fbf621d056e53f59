package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EvnyaGH/NewsAICopy/arxiv"
	"github.com/EvnyaGH/NewsAICopy/config"
	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/persistence"
	"github.com/EvnyaGH/NewsAICopy/quality"
	archive "github.com/EvnyaGH/NewsAICopy/s3"
	"github.com/EvnyaGH/NewsAICopy/types"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, params arxiv.SearchParams) (*arxiv.FetchResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*arxiv.FetchResult), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SavePapers(ctx context.Context, records []types.Record) (persistence.SaveResult, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(persistence.SaveResult), args.Error(1)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, raw []byte, summary types.FetchSummary) (*archive.ArchiveResult, error) {
	args := m.Called(ctx, raw, summary)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*archive.ArchiveResult), args.Error(1)
}

type MockReportStore struct {
	mock.Mock
}

func (m *MockReportStore) SaveReport(ctx context.Context, report types.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

// atomFeed renders a feed with valid entries followed by entries that have
// no author.
func atomFeed(valid, invalid int) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title>ArXiv Query</title>`)
	for i := 0; i < valid+invalid; i++ {
		id := fmt.Sprintf("2401.%05dv1", i+1)
		fmt.Fprintf(&b, `
  <entry>
    <id>http://arxiv.org/abs/%s</id>
    <updated>2024-01-02T00:00:00Z</updated>
    <published>2024-01-01T00:00:00Z</published>
    <title>Paper %d</title>
    <summary>Abstract %d</summary>`, id, i+1, i+1)
		if i < valid {
			b.WriteString(`
    <author><name>Ada Lovelace</name><arxiv:affiliation>Analytical Engines</arxiv:affiliation></author>`)
		}
		fmt.Fprintf(&b, `
    <link href="http://arxiv.org/abs/%s" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/%s" rel="related" type="application/pdf"/>
    <arxiv:primary_category term="cs.AI"/>
    <category term="cs.AI"/>
  </entry>`, id, id)
	}
	b.WriteString("\n</feed>")
	return []byte(b.String())
}

func fetchResult(body []byte) *arxiv.FetchResult {
	return &arxiv.FetchResult{
		URL:        "http://export.arxiv.org/api/query?search_query=cat%3Acs.AI&start=0&max_results=10",
		Body:       body,
		StatusCode: 200,
		Duration:   20 * time.Millisecond,
		FetchedAt:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}
}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Arxiv.MaxResults = 10
	return cfg
}

func testLogger() (*logger.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return logger.NewWithWriter("pipeline-test", &buf), &buf
}

func newRunner(cfg *config.Config, fetcher Fetcher, store PaperStore) *Runner {
	log, _ := testLogger()
	clock := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	return &Runner{
		Config:  cfg,
		Fetcher: fetcher,
		Store:   store,
		Logger:  log,
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		traceID: func() string { return "trace-test" },
	}
}

func TestRun_Success(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	reports := &MockReportStore{}
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(p arxiv.SearchParams) bool {
		return p.Query == "cat:cs.AI" && p.MaxResults == 10
	})).Return(fetchResult(atomFeed(3, 0)), nil)
	store.On("SavePapers", mock.Anything, mock.MatchedBy(func(records []types.Record) bool {
		return len(records) == 3
	})).Return(persistence.SaveResult{Requested: 3, Written: 3, Attempts: 1}, nil)
	reports.On("SaveReport", mock.Anything, mock.MatchedBy(func(r types.RunReport) bool {
		return r.Status == types.StatusSuccess
	})).Return(nil)

	runner := newRunner(testConfig(), fetcher, store)
	runner.Reports = reports

	report, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, report.Status)
	assert.Equal(t, "trace-test", report.TraceID)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.Valid)
	assert.Equal(t, 3, report.Written)
	assert.InDelta(t, 100.0, report.QualityRate, 0.001)
	assert.InDelta(t, 100.0, report.LoadRate(), 0.001)
	assert.Equal(t, int64(1000), report.DurationMs)
	assert.Equal(t, []string{"Paper 1", "Paper 2", "Paper 3"}, report.Titles)
	assert.Equal(t, archive.Checksum(atomFeed(3, 0)), report.Checksum)
	store.AssertExpectations(t)
	reports.AssertExpectations(t)
}

func TestRun_NormalizedRecordsReachStore(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(atomFeed(1, 0)), nil)

	var saved []types.Record
	store.On("SavePapers", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).([]types.Record)
	}).Return(persistence.SaveResult{Written: 1, Attempts: 1}, nil)

	_, err := newRunner(testConfig(), fetcher, store).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, saved, 1)
	r := saved[0]
	assert.Equal(t, "http://arxiv.org/abs/2401.00001v1", r.ID)
	assert.Equal(t, "Paper 1", r.Title)
	assert.Equal(t, "Ada Lovelace", r.Authors[0].Name)
	assert.Equal(t, []string{"Analytical Engines"}, r.Affiliations)
	assert.Equal(t, "cs.AI", r.PrimaryCategory)
	assert.Equal(t, "http://arxiv.org/pdf/2401.00001v1", r.PDFURL)
	assert.Equal(t, persistence.Key{ArxivID: "2401.00001", Version: 1}, persistence.DeriveKey(r.AbsURL, r.RawID()))
}

func TestRun_QualityGateBlocksPersistence(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(atomFeed(7, 3)), nil)

	report, err := newRunner(testConfig(), fetcher, store).Run(context.Background())

	require.Error(t, err)
	assert.True(t, logger.IsErrorType(err, logger.ErrorTypeQuality))
	assert.ErrorIs(t, err, quality.ErrQualityRateTooLow)
	assert.Equal(t, StageNormalize, FailedStage(err))
	assert.Equal(t, types.StatusFailed, report.Status)
	assert.Equal(t, StageNormalize, report.FailedStage)
	assert.Equal(t, 7, report.Valid)
	assert.Equal(t, 3, report.Invalid)
	assert.InDelta(t, 70.0, report.QualityRate, 0.001)
	assert.Zero(t, report.Written)
	store.AssertNotCalled(t, "SavePapers", mock.Anything, mock.Anything)
}

func TestRun_FetchFailure(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(nil, &arxiv.FetchError{URL: "http://export.arxiv.org/api/query", StatusCode: 503})

	report, err := newRunner(testConfig(), fetcher, store).Run(context.Background())

	require.Error(t, err)
	assert.True(t, logger.IsErrorType(err, logger.ErrorTypeAPI))
	assert.True(t, arxiv.IsFetchError(err))
	assert.Equal(t, StageFetch, report.FailedStage)
	assert.Zero(t, report.Fetched)
	store.AssertNotCalled(t, "SavePapers", mock.Anything, mock.Anything)
}

func TestRun_MalformedFeed(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult([]byte("<feed><entry></feed>")), nil)

	_, err := newRunner(testConfig(), fetcher, &MockStore{}).Run(context.Background())

	require.Error(t, err)
	assert.True(t, logger.IsErrorType(err, logger.ErrorTypeAPI))
	assert.Equal(t, StageFetch, FailedStage(err))
}

func TestRun_EmptyResultSet(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(atomFeed(0, 0)), nil)

	report, err := newRunner(testConfig(), fetcher, store).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEntries)
	assert.True(t, logger.IsErrorType(err, logger.ErrorTypeData))
	assert.Equal(t, StageFetch, report.FailedStage)
	store.AssertNotCalled(t, "SavePapers", mock.Anything, mock.Anything)
}

func TestRun_PersistFailure(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	reports := &MockReportStore{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(atomFeed(2, 0)), nil)
	store.On("SavePapers", mock.Anything, mock.Anything).
		Return(persistence.SaveResult{Requested: 2, Attempts: 1}, errors.New("unique violation"))
	reports.On("SaveReport", mock.Anything, mock.Anything).Return(errors.New("throttled"))

	runner := newRunner(testConfig(), fetcher, store)
	runner.Reports = reports
	report, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.True(t, logger.IsErrorType(err, logger.ErrorTypeDatabase))
	assert.Equal(t, StagePersist, report.FailedStage)
	assert.Equal(t, 1, report.Attempts)
	assert.Zero(t, report.Written)
	assert.Contains(t, report.Error, "unique violation")
	reports.AssertExpectations(t)
}

func TestRun_ArchivesRawFeed(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	archiver := &MockArchiver{}
	body := atomFeed(1, 0)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(body), nil)
	store.On("SavePapers", mock.Anything, mock.Anything).Return(persistence.SaveResult{Written: 1, Attempts: 1}, nil)
	archiver.On("Archive", mock.Anything, body, mock.MatchedBy(func(s types.FetchSummary) bool {
		return s.EntryCount == 1 && s.Checksum == archive.Checksum(body)
	})).Return(&archive.ArchiveResult{S3Key: "raw-data/arxiv/2024-01-03/arxiv-feed-20240103-000000.xml.gz"}, nil)

	runner := newRunner(testConfig(), fetcher, store)
	runner.Archiver = archiver
	report, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "raw-data/arxiv/2024-01-03/arxiv-feed-20240103-000000.xml.gz", report.ArchiveKey)
	archiver.AssertExpectations(t)
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	fetcher := &MockFetcher{}
	store := &MockStore{}
	archiver := &MockArchiver{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(atomFeed(1, 0)), nil)
	store.On("SavePapers", mock.Anything, mock.Anything).Return(persistence.SaveResult{Written: 1, Attempts: 1}, nil)
	archiver.On("Archive", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))

	runner := newRunner(testConfig(), fetcher, store)
	runner.Archiver = archiver
	report, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, report.ArchiveKey)
	assert.Equal(t, types.StatusSuccess, report.Status)
}

func TestFetch_PassesDateRange(t *testing.T) {
	fetcher := &MockFetcher{}
	cfg := testConfig()
	cfg.Arxiv.DateFrom = "2024-01-01"
	cfg.Arxiv.DateTo = "2024-01-31"
	fetcher.On("Fetch", mock.Anything, mock.MatchedBy(func(p arxiv.SearchParams) bool {
		return p.DateFrom != nil && p.DateTo != nil &&
			p.DateFrom.Format("2006-01-02") == "2024-01-01" &&
			p.DateTo.Format("2006-01-02") == "2024-01-31"
	})).Return(fetchResult(atomFeed(1, 0)), nil)

	log, _ := testLogger()
	out, err := Fetch(context.Background(), cfg, fetcher, nil, log)

	require.NoError(t, err)
	assert.Len(t, out.Entries, 1)
	fetcher.AssertExpectations(t)
}

func TestNormalizeAndValidate_SkipsBrokenEntries(t *testing.T) {
	log, buf := testLogger()
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(fetchResult(atomFeed(4, 0)), nil)
	out, err := Fetch(context.Background(), testConfig(), fetcher, nil, log)
	require.NoError(t, err)

	entries := append(out.Entries, nil)
	validated, err := NormalizeAndValidate(context.Background(), testConfig(), entries, nil, log)

	require.NoError(t, err)
	assert.Equal(t, 1, validated.Failed)
	assert.Len(t, validated.Records(), 4)
	assert.Contains(t, buf.String(), "Entry transform failed")
}

func TestLoadConfig_FromFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
arxiv:
  search_query: "cat:cs.CL"
  max_results: 25
`), 0o644))
	env := map[string]string{"ARXIV_MAX_RESULTS": "5", "ARXIV_START": "abc"}
	log, _ := testLogger()

	cfg, err := LoadConfig(context.Background(), ConfigSource{Path: path}, func(k string) string { return env[k] }, log)

	require.NoError(t, err)
	assert.Equal(t, "cat:cs.CL", cfg.Arxiv.SearchQuery)
	assert.Equal(t, 5, cfg.Arxiv.MaxResults)
	assert.Equal(t, 0, cfg.Arxiv.Start)
}

func TestLoadConfig_DefaultPathMissingUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	log, buf := testLogger()
	cfg, err := LoadConfig(context.Background(), ConfigSource{Path: config.DefaultConfigPath}, func(string) string { return "" }, log)

	require.NoError(t, err)
	assert.Equal(t, config.DefaultBaseURL, cfg.Arxiv.BaseURL)
	assert.Contains(t, buf.String(), "Config file not found")
}

func TestLoadConfig_Errors(t *testing.T) {
	log, _ := testLogger()
	noEnv := func(string) string { return "" }

	_, err := LoadConfig(context.Background(), ConfigSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}, noEnv, log)
	require.Error(t, err)
	assert.True(t, logger.IsErrorType(err, logger.ErrorTypeConfig))
	assert.Equal(t, StageLoadConfig, FailedStage(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("arxiv:\n  max_results: 0\n"), 0o644))
	_, err = LoadConfig(context.Background(), ConfigSource{Path: path}, noEnv, log)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidMaxResults)
}

func TestTitlePreview(t *testing.T) {
	records := []types.Record{
		{Title: strings.Repeat("a", 100)},
		{Title: "短い題名"},
		{Title: "third"},
	}

	titles := TitlePreview(records, 2)

	require.Len(t, titles, 2)
	assert.True(t, strings.HasSuffix(titles[0], "..."))
	assert.LessOrEqual(t, len(titles[0]), titleWidth)
	assert.Equal(t, "短い題名", titles[1])
	assert.Empty(t, TitlePreview(nil, 5))
}

func TestFormatReport(t *testing.T) {
	out := FormatReport(types.RunReport{
		TraceID:     "trace-1",
		Status:      types.StatusFailed,
		Query:       "cat:cs.AI",
		Fetched:     10,
		Valid:       7,
		Invalid:     3,
		QualityRate: 70,
		FailedStage: StageNormalize,
		Titles:      []string{"Paper 1"},
	})

	assert.Contains(t, out, "Status           FAILED\n")
	assert.Contains(t, out, "Quality rate     70.00%\n")
	assert.Contains(t, out, "Failed stage     normalize_validate\n")
	assert.Contains(t, out, "  - Paper 1\n")
}
