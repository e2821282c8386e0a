package analysis

import (
	"time"
)

// Status represents the lifecycle state of an analysis job.
type Status string

// Job status values persisted in the job store.
const (
	StatusQueued                          Status = "QUEUED"
	StatusProcessingScrape                Status = "PROCESSING_SCRAPE"
	StatusProcessingPSI                   Status = "PROCESSING_PSI"
	StatusProcessingArkhe                 Status = "PROCESSING_ARKHE"
	StatusProcessingPrometheus            Status = "PROCESSING_PROMETHEUS"
	StatusProcessingGenerativePerformance Status = "PROCESSING_GENERATIVE_PERFORMANCE"
	StatusProcessingLIR                   Status = "PROCESSING_LIR"
	StatusProcessingStrategicImpact       Status = "PROCESSING_STRATEGIC_IMPACT"
	StatusCompleted                       Status = "COMPLETED"
	StatusFailed                          Status = "FAILED"
)

// ARKHE and PSI share a phase, as do PROMETHEUS and GENERATIVE_PERFORMANCE,
// so siblings carry the same rank and may overwrite each other freely.
var statusRank = map[Status]int{
	StatusQueued:                          0,
	StatusProcessingScrape:                1,
	StatusProcessingPSI:                   2,
	StatusProcessingArkhe:                 2,
	StatusProcessingPrometheus:            3,
	StatusProcessingGenerativePerformance: 3,
	StatusProcessingLIR:                   4,
	StatusProcessingStrategicImpact:       5,
	StatusCompleted:                       6,
	StatusFailed:                          6,
}

// Rank orders statuses by pipeline phase. Unknown statuses rank -1.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transitions happen in this run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// TopQuery is a search query the site already ranks for.
type TopQuery struct {
	Query    string `json:"query"`
	Volume   int    `json:"volume,omitempty"`
	Position int    `json:"position,omitempty"`
}

// Job is the central mutable aggregate for one analysis run.
type Job struct {
	ID         string     `json:"id"`
	QueryID    string     `json:"queryId,omitempty"`
	UserID     string     `json:"userId"`
	URL        string     `json:"url"`
	URLHost    string     `json:"urlHost"`
	Locale     string     `json:"locale"`
	Status     Status     `json:"status"`
	TopQueries []TopQuery `json:"topQueries,omitempty"`

	ScrapedContent *string      `json:"scrapedContent,omitempty"`
	ScrapedHTML    *string      `json:"scrapedHtml,omitempty"`
	ScrapeError    string       `json:"scrapeError,omitempty"`
	SiteSignals    *SiteSignals `json:"siteSignals,omitempty"`

	Arkhe                 *Section[ProfileReport]     `json:"arkheReport,omitempty"`
	Performance           *Section[PerformanceReport] `json:"performanceReport,omitempty"`
	Prometheus            *Section[TrustReport]       `json:"prometheusReport,omitempty"`
	GenerativePerformance *Section[VisibilityReport]  `json:"generativePerformanceReport,omitempty"`
	Delfi                 *Section[Agenda]            `json:"delfiAgenda,omitempty"`
	FinalGeoScore         *int                        `json:"finalGeoScore,omitempty"`

	Events []Event `json:"events,omitempty"`
	Error  string  `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobUpdate is a partial write. Nil fields are left untouched. ResetResults
// clears every stage result before the other fields are applied.
type JobUpdate struct {
	QueryID    *string
	UserID     *string
	URL        *string
	URLHost    *string
	Locale     *string
	Status     *Status
	TopQueries []TopQuery

	ScrapedContent *string
	ScrapedHTML    *string
	ScrapeError    *string
	SiteSignals    *SiteSignals

	Arkhe                 *Section[ProfileReport]
	Performance           *Section[PerformanceReport]
	Prometheus            *Section[TrustReport]
	GenerativePerformance *Section[VisibilityReport]
	Delfi                 *Section[Agenda]
	FinalGeoScore         *int

	Error        *string
	ResetResults bool
	CreatedAt    *time.Time
}

// Apply merges the update into job and stamps UpdatedAt.
func (u JobUpdate) Apply(job *Job, now time.Time) {
	if u.ResetResults {
		job.ScrapedContent = nil
		job.ScrapedHTML = nil
		job.ScrapeError = ""
		job.SiteSignals = nil
		job.Arkhe = nil
		job.Performance = nil
		job.Prometheus = nil
		job.GenerativePerformance = nil
		job.Delfi = nil
		job.FinalGeoScore = nil
		job.Error = ""
	}
	setIf(&job.QueryID, u.QueryID)
	setIf(&job.UserID, u.UserID)
	setIf(&job.URL, u.URL)
	setIf(&job.URLHost, u.URLHost)
	setIf(&job.Locale, u.Locale)
	setIf(&job.Status, u.Status)
	if u.TopQueries != nil {
		job.TopQueries = append([]TopQuery(nil), u.TopQueries...)
	}
	if u.ScrapedContent != nil {
		job.ScrapedContent = Ptr(*u.ScrapedContent)
	}
	if u.ScrapedHTML != nil {
		job.ScrapedHTML = Ptr(*u.ScrapedHTML)
	}
	setIf(&job.ScrapeError, u.ScrapeError)
	if u.SiteSignals != nil {
		job.SiteSignals = u.SiteSignals
	}
	if u.Arkhe != nil {
		job.Arkhe = u.Arkhe
	}
	if u.Performance != nil {
		job.Performance = u.Performance
	}
	if u.Prometheus != nil {
		job.Prometheus = u.Prometheus
	}
	if u.GenerativePerformance != nil {
		job.GenerativePerformance = u.GenerativePerformance
	}
	if u.Delfi != nil {
		job.Delfi = u.Delfi
	}
	if u.FinalGeoScore != nil {
		job.FinalGeoScore = Ptr(*u.FinalGeoScore)
	}
	setIf(&job.Error, u.Error)
	if u.CreatedAt != nil && job.CreatedAt.IsZero() {
		job.CreatedAt = *u.CreatedAt
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Report is the denormalized snapshot written once a job completes.
type Report struct {
	JobID                 string                      `json:"jobId"`
	QueryID               string                      `json:"queryId,omitempty"`
	UserID                string                      `json:"userId"`
	Domain                string                      `json:"domain"`
	FinalGeoScore         *int                        `json:"finalGeoScore,omitempty"`
	Arkhe                 *Section[ProfileReport]     `json:"arkheReport,omitempty"`
	Prometheus            *Section[TrustReport]       `json:"prometheusReport,omitempty"`
	Delfi                 *Section[Agenda]            `json:"delfiAgenda,omitempty"`
	GenerativePerformance *Section[VisibilityReport]  `json:"generativePerformanceReport,omitempty"`
	Performance           *Section[PerformanceReport] `json:"performanceReport,omitempty"`
	CreatedAt             time.Time                   `json:"createdAt"`
	UpdatedAt             time.Time                   `json:"updatedAt"`
}

// SnapshotReport builds the report snapshot for a job.
func SnapshotReport(job Job, now time.Time) Report {
	return Report{
		JobID:                 job.ID,
		QueryID:               job.QueryID,
		UserID:                job.UserID,
		Domain:                job.URL,
		FinalGeoScore:         job.FinalGeoScore,
		Arkhe:                 job.Arkhe,
		Prometheus:            job.Prometheus,
		Delfi:                 job.Delfi,
		GenerativePerformance: job.GenerativePerformance,
		Performance:           job.Performance,
		CreatedAt:             job.CreatedAt,
		UpdatedAt:             now,
	}
}

// QueryStatus mirrors a job's terminal status onto an external query reference.
type QueryStatus struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}
