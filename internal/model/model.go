// Package model defines the domain types shared by the pipeline workers.
package model

import "time"

// Court is a court referenced by bankruptcy cases. Created on first
// reference during import, never deleted.
type Court struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Company is a debtor company keyed by its EDRPOU registry code.
type Company struct {
	ID     int64  `json:"id"`
	EDRPOU string `json:"edrpou"`
	Name   string `json:"name"`
}

// ExtractionStatus tracks the creditor-extraction state of a case.
type ExtractionStatus string

const (
	ExtractionPending   ExtractionStatus = "pending"
	ExtractionExtracted ExtractionStatus = "extracted"
	ExtractionFailed    ExtractionStatus = "failed"
)

// Case is a bankruptcy proceeding announcement. Number is the global
// idempotency key: at most one row per number ever exists.
type Case struct {
	ID                  int64            `json:"id"`
	Number              int64            `json:"number"`
	Date                time.Time        `json:"date"`
	Type                string           `json:"type"`
	CaseNumber          string           `json:"case_number"`
	StartDateAuc        *time.Time       `json:"start_date_auc,omitempty"`
	EndDateAuc          *time.Time       `json:"end_date_auc,omitempty"`
	EndRegistrationDate *time.Time       `json:"end_registration_date,omitempty"`
	CompanyID           int64            `json:"company_id"`
	CourtID             int64            `json:"court_id"`
	ExtractionStatus    ExtractionStatus `json:"extraction_status"`
	ExtractionAttempts  int              `json:"extraction_attempts"`
	NextExtractionAt    *time.Time       `json:"next_extraction_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// MentionStatus tracks a creditor mention through deduplication.
type MentionStatus string

const (
	MentionPending  MentionStatus = "pending"
	MentionResolved MentionStatus = "resolved"
)

// CreditorMention is a raw creditor reference extracted from one case's
// text, prior to deduplication. Only the Extractor produces mentions.
type CreditorMention struct {
	ID             int64         `json:"id"`
	CaseID         int64         `json:"case_id"`
	RawText        string        `json:"raw_text"`
	NormalizedText string        `json:"normalized_text"`
	EDRPOU         string        `json:"edrpou,omitempty"`
	Status         MentionStatus `json:"status"`
	ClusterID      *int64        `json:"cluster_id,omitempty"`
	CanonicalID    *int64        `json:"canonical_id,omitempty"`
	ExtractedAt    time.Time     `json:"extracted_at"`
}

// ClusterStatus tracks a dedup cluster's lifecycle.
type ClusterStatus string

const (
	ClusterOpen      ClusterStatus = "open"
	ClusterFinalized ClusterStatus = "finalized"
	ClusterMerged    ClusterStatus = "merged"
)

// DedupCluster groups mentions judged equivalent while the grouping is
// still unstable. It collapses into a CanonicalCreditor once no new
// mention joins within the stability window.
type DedupCluster struct {
	ID             int64         `json:"id"`
	Representative string        `json:"representative"`
	EDRPOU         string        `json:"edrpou,omitempty"`
	Status         ClusterStatus `json:"status"`
	CanonicalID    *int64        `json:"canonical_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	LastJoinedAt   time.Time     `json:"last_joined_at"`
}

// CanonicalStatus tracks whether a canonical creditor is live or has been
// superseded by a merge.
type CanonicalStatus string

const (
	CanonicalActive CanonicalStatus = "active"
	CanonicalMerged CanonicalStatus = "merged"
)

// CanonicalCreditor is the deduplicated creditor entity. Merged entities
// are never deleted; they point at their successor via MergedInto.
type CanonicalCreditor struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	NormalizedName string          `json:"normalized_name"`
	EDRPOU         string          `json:"edrpou,omitempty"`
	Status         CanonicalStatus `json:"status"`
	MergedInto     *int64          `json:"merged_into,omitempty"`
	MentionCount   int64           `json:"mention_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StatisticsSnapshot is an immutable aggregate over committed store state.
// Snapshots are superseded by later runs, never edited.
type StatisticsSnapshot struct {
	ID                int64            `json:"id"`
	TakenAt           time.Time        `json:"taken_at"`
	TotalCases        int64            `json:"total_cases"`
	TotalCompanies    int64            `json:"total_companies"`
	TotalCourts       int64            `json:"total_courts"`
	TotalCreditors    int64            `json:"total_creditors"`
	PendingExtraction int64            `json:"pending_extraction"`
	FailedExtraction  int64            `json:"failed_extraction"`
	PendingMentions   int64            `json:"pending_mentions"`
	CasesByYear       map[string]int64 `json:"cases_by_year"`
	CasesByType       map[string]int64 `json:"cases_by_type"`
	TopCourts         map[string]int64 `json:"top_courts"`
}

// ImportResult summarizes one file import.
type ImportResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Skipped  int `json:"skipped"`
}

// JobStatus tracks an import job through the durable Watcher→Importer handoff.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// ImportJob is a queued request to import one intake file.
type ImportJob struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Status     JobStatus `json:"status"`
	Result     ImportResult
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FileState is the Watcher's per-file checkpoint. A file re-triggers an
// import only when its size, mtime, or content hash differs from the state
// recorded after the last successful import.
type FileState struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	SHA256    string    `json:"sha256"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
