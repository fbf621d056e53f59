package types

import "time"

// Author is one entry of a paper's ordered author list
type Author struct {
	Name        string  `json:"name"`
	Affiliation *string `json:"affiliation"`
}

// Link is one <link> element of an Atom entry
type Link struct {
	Rel  string `json:"rel,omitempty"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// Record is the normalized form of one feed entry
type Record struct {
	ID              string            `json:"id"`
	ArxivID         string            `json:"arxiv_id,omitempty"` // raw id as mapped from the feed
	Title           string            `json:"title"`
	Authors         []Author          `json:"authors"`
	Affiliations    []string          `json:"affiliations"`
	Abstract        string            `json:"abstract,omitempty"`
	PublishedAt     *time.Time        `json:"published_at,omitempty"`
	UpdatedAt       *time.Time        `json:"updated_at,omitempty"`
	JournalRef      string            `json:"journal_ref,omitempty"`
	DOI             string            `json:"doi,omitempty"`
	Comment         string            `json:"comment,omitempty"`
	PrimaryCategory string            `json:"primary_category,omitempty"`
	Categories      []string          `json:"categories"`
	Links           []Link            `json:"links"`
	AbsURL          string            `json:"abs_url,omitempty"`
	PDFURL          string            `json:"pdf_url,omitempty"`
	ExtractedText   *string           `json:"extracted_text,omitempty"`
	FilePath        *string           `json:"file_path,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// IsValid reports whether the record carries an id, a title and at least one author.
func (r Record) IsValid() bool {
	return r.ID != "" && r.Title != "" && len(r.Authors) > 0
}

// RawID returns the identifier used as the fallback for key derivation.
func (r Record) RawID() string {
	if r.ArxivID != "" {
		return r.ArxivID
	}
	return r.ID
}

// FetchSummary describes the feed page a batch of records came from
type FetchSummary struct {
	URL        string    `json:"url"`
	Query      string    `json:"query"`
	Start      int       `json:"start"`
	MaxResults int       `json:"max_results"`
	EntryCount int       `json:"entry_count"`
	Bytes      int       `json:"bytes"`
	Checksum   string    `json:"checksum"`
	FetchedAt  time.Time `json:"fetched_at"`
	S3Key      string    `json:"s3_key,omitempty"`
}
