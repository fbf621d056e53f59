package quality

import (
	"errors"
	"fmt"

	"github.com/EvnyaGH/NewsAICopy/types"
)

const (
	DefaultMinQualityRate = 80.0
	DefaultMinValidCount  = 1
)

var (
	ErrQualityRateTooLow = errors.New("quality rate below threshold")
	ErrTooFewRecords     = errors.New("valid record count below threshold")
)

// Partition is the split of a batch into valid and invalid records.
type Partition struct {
	Valid       []types.Record
	Invalid     []types.Record
	Total       int
	QualityRate float64 // percent, 0 when Total is 0
}

// ValidCount returns len(Valid).
func (p Partition) ValidCount() int { return len(p.Valid) }

// InvalidCount returns len(Invalid).
func (p Partition) InvalidCount() int { return len(p.Invalid) }

// Split separates records by Record.IsValid, keeping input order.
func Split(records []types.Record) Partition {
	p := Partition{
		Valid: make([]types.Record, 0, len(records)),
		Total: len(records),
	}
	for _, r := range records {
		if r.IsValid() {
			p.Valid = append(p.Valid, r)
		} else {
			p.Invalid = append(p.Invalid, r)
		}
	}
	if p.Total > 0 {
		p.QualityRate = float64(len(p.Valid)) / float64(p.Total) * 100
	}
	return p
}

// Gate holds the batch-level thresholds.
type Gate struct {
	MinQualityRate float64
	MinValidCount  int
}

// DefaultGate requires 80% valid records and at least one valid record.
func DefaultGate() Gate {
	return Gate{MinQualityRate: DefaultMinQualityRate, MinValidCount: DefaultMinValidCount}
}

// GateError reports which thresholds a batch missed.
type GateError struct {
	QualityRate    float64
	MinQualityRate float64
	ValidCount     int
	MinValidCount  int
	Reasons        []error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("quality gate failed: %.2f%% valid (min %.2f%%), %d valid records (min %d)",
		e.QualityRate, e.MinQualityRate, e.ValidCount, e.MinValidCount)
}

// Unwrap exposes the individual threshold errors to errors.Is.
func (e *GateError) Unwrap() []error {
	return e.Reasons
}

// Check returns a *GateError when the partition misses either threshold.
func (g Gate) Check(p Partition) error {
	var reasons []error
	if p.QualityRate < g.MinQualityRate {
		reasons = append(reasons, ErrQualityRateTooLow)
	}
	if len(p.Valid) < g.MinValidCount {
		reasons = append(reasons, ErrTooFewRecords)
	}
	if len(reasons) == 0 {
		return nil
	}
	return &GateError{
		QualityRate:    p.QualityRate,
		MinQualityRate: g.MinQualityRate,
		ValidCount:     len(p.Valid),
		MinValidCount:  g.MinValidCount,
		Reasons:        reasons,
	}
}
