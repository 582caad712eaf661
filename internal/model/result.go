package model

// Stage names a step of the page pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageDiscover  Stage = "discover"
	StageFetch     Stage = "fetch"
	StageParse     Stage = "parse"
	StageEnrich    Stage = "enrich"
	StageNormalize Stage = "normalize"
)

// Failure records a page that was skipped.
type Failure struct {
	URL     string `json:"url"`
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind,omitempty"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

// CrawlResult aggregates the pages produced by one crawl, in discovery order.
type CrawlResult struct {
	CrawlID    string     `json:"crawl_id"`
	Seed       string     `json:"seed"`
	Pages      []Metadata `json:"pages"`
	Failures   []Failure  `json:"failures,omitempty"`
	Discovered int        `json:"discovered"`
	Canceled   bool       `json:"canceled,omitempty"`
}

// StageError tags an error with the pipeline stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }

// Unwrap exposes the stage's error.
func (e *StageError) Unwrap() error { return e.Err }
