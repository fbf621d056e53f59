package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/EvnyaGH/NewsAICopy/types"
)

// Columns lists the insertable columns of the papers table in bind order.
// created_at and ingested_at are filled by the database.
var Columns = []string{
	"arxiv_id",
	"version",
	"title",
	"authors",
	"affiliations",
	"published_at",
	"updated_at",
	"journal_ref",
	"doi",
	"primary_category",
	"categories",
	"abstract",
	"comment",
	"abs_url",
	"pdf_url",
	"links",
	"file_path",
	"meta_json",
}

// PaperRow is one row of the papers table.
type PaperRow struct {
	Key
	Title           *string
	Authors         []byte
	Affiliations    []byte
	PublishedAt     *time.Time
	UpdatedAt       *time.Time
	JournalRef      *string
	DOI             *string
	PrimaryCategory *string
	Categories      []byte
	Abstract        *string
	Comment         *string
	AbsURL          *string
	PDFURL          *string
	Links           []byte
	FilePath        *string
	MetaJSON        []byte
}

type rowMeta struct {
	RawID                string            `json:"raw_id"`
	ExtractedTextPresent bool              `json:"extracted_text_present"`
	Extra                map[string]string `json:"extra,omitempty"`
}

// NewPaperRow converts a normalized record into a row, deriving its key.
func NewPaperRow(r types.Record) (PaperRow, error) {
	row := PaperRow{
		Key:             DeriveKey(r.AbsURL, r.RawID()),
		Title:           nullable(r.Title),
		PublishedAt:     r.PublishedAt,
		UpdatedAt:       r.UpdatedAt,
		JournalRef:      nullable(r.JournalRef),
		DOI:             nullable(r.DOI),
		PrimaryCategory: nullable(r.PrimaryCategory),
		Abstract:        nullable(r.Abstract),
		Comment:         nullable(r.Comment),
		AbsURL:          nullable(r.AbsURL),
		PDFURL:          nullable(r.PDFURL),
		FilePath:        r.FilePath,
	}

	var err error
	if row.Authors, err = marshalList(r.Authors); err != nil {
		return PaperRow{}, fmt.Errorf("authors: %w", err)
	}
	if row.Affiliations, err = marshalList(r.Affiliations); err != nil {
		return PaperRow{}, fmt.Errorf("affiliations: %w", err)
	}
	if row.Categories, err = marshalList(r.Categories); err != nil {
		return PaperRow{}, fmt.Errorf("categories: %w", err)
	}
	if row.Links, err = marshalList(r.Links); err != nil {
		return PaperRow{}, fmt.Errorf("links: %w", err)
	}
	row.MetaJSON, err = json.Marshal(rowMeta{
		RawID:                r.RawID(),
		ExtractedTextPresent: r.ExtractedText != nil && *r.ExtractedText != "",
		Extra:                r.Extra,
	})
	if err != nil {
		return PaperRow{}, fmt.Errorf("meta_json: %w", err)
	}

	return row, nil
}

// Args returns the bind values in Columns order.
func (r PaperRow) Args() []any {
	return []any{
		r.ArxivID,
		r.Version,
		r.Title,
		r.Authors,
		r.Affiliations,
		r.PublishedAt,
		r.UpdatedAt,
		r.JournalRef,
		r.DOI,
		r.PrimaryCategory,
		r.Categories,
		r.Abstract,
		r.Comment,
		r.AbsURL,
		r.PDFURL,
		r.Links,
		r.FilePath,
		r.MetaJSON,
	}
}

// marshalList encodes a slice as a JSON array; nil becomes [].
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
