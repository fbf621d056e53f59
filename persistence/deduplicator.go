package persistence

import "github.com/EvnyaGH/NewsAICopy/logger"

// DeduplicationStats describes one deduplication pass
type DeduplicationStats struct {
	OriginalCount  int `json:"original_count"`
	UniqueCount    int `json:"unique_count"`
	DuplicateCount int `json:"duplicate_count"`
}

// Deduplicator collapses rows sharing a key. A single INSERT ... ON CONFLICT
// DO UPDATE cannot touch the same row twice, so a batch must be unique by key.
type Deduplicator struct {
	logger *logger.Logger
}

// NewDeduplicator creates a new deduplicator instance
func NewDeduplicator(log *logger.Logger) *Deduplicator {
	return &Deduplicator{logger: log}
}

// Deduplicate keeps one row per key. The last occurrence wins, matching what
// sequential upserts would leave behind, and takes the position of the first.
func (d *Deduplicator) Deduplicate(rows []PaperRow) ([]PaperRow, DeduplicationStats) {
	stats := DeduplicationStats{OriginalCount: len(rows)}
	if len(rows) == 0 {
		return rows, stats
	}

	index := make(map[Key]int, len(rows))
	unique := make([]PaperRow, 0, len(rows))

	for _, row := range rows {
		if i, seen := index[row.Key]; seen {
			unique[i] = row
			stats.DuplicateCount++
			d.logger.Debug("Duplicate paper found and merged", map[string]interface{}{
				"arxiv_id": row.ArxivID,
				"version":  row.Version,
			})
			continue
		}
		index[row.Key] = len(unique)
		unique = append(unique, row)
	}

	stats.UniqueCount = len(unique)
	if stats.DuplicateCount > 0 {
		d.logger.Info("Deduplication completed with stats", map[string]interface{}{
			"original_count":  stats.OriginalCount,
			"unique_count":    stats.UniqueCount,
			"duplicate_count": stats.DuplicateCount,
		})
	}

	return unique, stats
}
