package normalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EvnyaGH/NewsAICopy/feed"
	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/types"
)

// ErrNotAnEntry is returned for entries that did not decode into an element map.
var ErrNotAnEntry = errors.New("entry is not an element")

// TextExtractor downloads a paper's PDF and returns its text and local path.
type TextExtractor interface {
	Extract(ctx context.Context, record types.Record) (text string, path string, err error)
}

// Normalizer maps raw feed entries to records using a field mapping.
type Normalizer struct {
	mapping     map[string]string
	extractText bool
	extractor   TextExtractor
	log         *logger.Logger
	errHandler  *logger.ErrorHandler
}

// New creates a Normalizer. extractor may be nil when extractText is false.
func New(mapping map[string]string, extractText bool, extractor TextExtractor, log *logger.Logger) *Normalizer {
	return &Normalizer{
		mapping:     mapping,
		extractText: extractText,
		extractor:   extractor,
		log:         log,
		errHandler:  logger.NewErrorHandler(log),
	}
}

// Result is the outcome of normalizing one fetched page.
type Result struct {
	Records []types.Record
	Failed  int
}

// NormalizeEntries transforms every entry. Entries that fail are logged and
// skipped; they never abort the batch.
func (n *Normalizer) NormalizeEntries(ctx context.Context, entries feed.List) Result {
	result := Result{Records: make([]types.Record, 0, len(entries))}

	for i, entry := range entries {
		record, err := n.safeTransform(ctx, entry)
		if err != nil {
			result.Failed++
			n.log.Warn("Entry transform failed", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		result.Records = append(result.Records, record)
	}

	return result
}

func (n *Normalizer) safeTransform(ctx context.Context, entry feed.Value) (record types.Record, err error) {
	defer func() { err = n.errHandler.Recover(recover(), "transform entry", err) }()
	return n.Transform(ctx, entry)
}

// Transform normalizes a single entry.
func (n *Normalizer) Transform(ctx context.Context, raw feed.Value) (types.Record, error) {
	entry, ok := raw.(feed.Map)
	if !ok {
		return types.Record{}, fmt.Errorf("%w: got %T", ErrNotAnEntry, raw)
	}

	var record types.Record
	var mappedPrimary, mappedPDF string

	for field, path := range n.mapping {
		if field == "pdf_url" {
			_, _, explicit := ExtractLinks(entry)
			if explicit == "" {
				explicit = FallbackPDFURL(entry)
			}
			mappedPDF = explicit
			continue
		}

		value, ok := feed.ResolveString(entry, path)
		if !ok {
			continue
		}

		switch field {
		case "id":
			record.ID = value
		case "arxiv_id":
			record.ArxivID = value
		case "title":
			record.Title = collapseSpace(value)
		case "summary", "abstract":
			record.Abstract = collapseSpace(value)
		case "published_at", "published":
			record.PublishedAt = n.parseTime(field, value)
		case "updated_at", "updated":
			record.UpdatedAt = n.parseTime(field, value)
		case "journal_ref":
			record.JournalRef = collapseSpace(value)
		case "doi":
			record.DOI = value
		case "comment":
			record.Comment = collapseSpace(value)
		case "primary_category":
			mappedPrimary = value
		default:
			if record.Extra == nil {
				record.Extra = map[string]string{}
			}
			record.Extra[field] = value
		}
	}

	record.Authors, record.Affiliations = ExtractAuthors(entry)

	primary, categories := ExtractCategories(entry)
	if primary == "" {
		primary = mappedPrimary
	}
	record.PrimaryCategory = primary
	record.Categories = categories

	links, absURL, pdfFromLinks := ExtractLinks(entry)
	record.Links = links
	record.AbsURL = absURL
	record.PDFURL = mappedPDF
	if record.PDFURL == "" {
		record.PDFURL = pdfFromLinks
	}

	record.FilePath = nil
	record.ExtractedText = nil
	if n.extractText {
		n.attachText(ctx, &record)
	}

	return record, nil
}

// attachText downloads and extracts the PDF text. Failures leave the record
// without text.
func (n *Normalizer) attachText(ctx context.Context, record *types.Record) {
	if n.extractor == nil || record.PDFURL == "" {
		return
	}
	text, path, err := n.extractor.Extract(ctx, *record)
	if err != nil {
		n.log.Warn("PDF text extraction failed", map[string]interface{}{
			"id":      record.ID,
			"pdf_url": record.PDFURL,
			"error":   err.Error(),
		})
		return
	}
	if path != "" {
		record.FilePath = &path
	}
	if text != "" {
		record.ExtractedText = &text
	}
}

func (n *Normalizer) parseTime(field, value string) *time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		n.log.Debug("Unparseable timestamp ignored", map[string]interface{}{
			"field": field,
			"value": value,
		})
		return nil
	}
	t = t.UTC()
	return &t
}
