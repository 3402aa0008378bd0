package photosync

import (
	"time"

	"github.com/google/uuid"

	errs "vkphotos/pkg/errors"
)

// Summary reports one engine operation. Every skipped record is listed.
type Summary struct {
	RunID      string             `json:"run_id" yaml:"run_id"`
	Operation  string             `json:"operation" yaml:"operation"`
	Scope      string             `json:"scope" yaml:"scope"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at" yaml:"finished_at"`
	Pages      int                `json:"pages" yaml:"pages"`
	Received   int                `json:"received" yaml:"received"`
	Stored     int                `json:"stored" yaml:"stored"`
	Skipped    []errs.RecordError `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Stop       StopReason         `json:"stop,omitempty" yaml:"stop,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// Duration is the wall time of the operation.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (e *Engine) startSummary(op, scope string) Summary {
	return Summary{
		RunID:     uuid.NewString(),
		Operation: op,
		Scope:     scope,
		StartedAt: e.now(),
	}
}

func finishSummary[T any](e *Engine, s *Summary, res Result[T], err error) {
	s.FinishedAt = e.now()
	s.Pages = res.Pages
	s.Received = res.Received
	s.Stored = len(res.Items)
	s.Skipped = res.Skipped
	s.Stop = res.Stop
	if err != nil {
		s.Error = err.Error()
	}
}
