package pipeline

import (
	"errors"
	"fmt"

	"github.com/EvnyaGH/NewsAICopy/logger"
)

// Stage names, in execution order.
const (
	StageLoadConfig = "load_config"
	StageFetch      = "fetch"
	StageNormalize  = "normalize_validate"
	StagePersist    = "persist"
)

// ErrNoEntries is returned when the feed page carries no entries.
var ErrNoEntries = errors.New("feed returned no entries")

// StageError is the fatal error of one stage. Err is a *logger.AppError.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, errorType logger.ErrorType, message string, cause error) error {
	return &StageError{Stage: stage, Err: logger.NewAppError(errorType, message, cause)}
}

// FailedStage returns the stage an error came from, or "" when it did not
// come from a stage.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
