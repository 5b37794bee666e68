package pipeline

import (
	"time"

	"github.com/hyperjump/kiji/internal/dedup"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/source"
)

// Stage names used in failure records.
const (
	StageStore   = "store"
	StageKeyword = "keyword_index"
	// StageCanceled marks articles left unprocessed because the run was cancelled.
	StageCanceled = "canceled"
)

// Failure records an article that could not be written.
type Failure struct {
	ArticleID string `json:"article_id"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// BatchReport summarizes one ingestion run.
type BatchReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Received       int `json:"received"`
	Rejected       int `json:"rejected"`
	Duplicates     int `json:"duplicates"`
	NearDuplicates int `json:"near_duplicates"`
	Stored         int `json:"stored"`
	FullyEnriched  int `json:"fully_enriched"`
	Pending        int `json:"pending_enrichment"`
	Uncategorized  int `json:"uncategorized"`
	// ClassificationFailures counts articles whose classifier errored on every attempt.
	ClassificationFailures int `json:"classification_failures"`

	ByCategory map[models.Category]int      `json:"by_category"`
	Rejections []source.Rejection           `json:"rejections,omitempty"`
	Discards   []dedup.Discard              `json:"discards,omitempty"`
	Failures   []Failure                    `json:"failures,omitempty"`
	Highlights map[models.Category][]string `json:"highlights,omitempty"`
	// Topics counts the topic clusters per category after the run.
	Topics map[models.Category]int `json:"topics,omitempty"`
}

// Duration is how long the run took.
func (r *BatchReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Unwritten counts the articles of the run that were accepted but not stored.
func (r *BatchReport) Unwritten() int {
	n := 0
	for _, f := range r.Failures {
		if f.Stage == StageStore || f.Stage == StageCanceled {
			n++
		}
	}
	return n
}

// ReprocessReport summarizes one reprocessing run.
type ReprocessReport struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Attempted     int       `json:"attempted"`
	Completed     int       `json:"completed"`
	StillPending  int       `json:"still_pending"`
	Recategorized int       `json:"recategorized"`
	Failures      []Failure `json:"failures,omitempty"`
}
