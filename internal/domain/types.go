package domain

import "time"

// JobStatus is the overall lifecycle state of the tracked research job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageStatus tracks one pipeline stage in the loading view.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusError     StageStatus = "error"
)

// Stage is one of the five fixed research pipeline phases.
type Stage struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      StageStatus `json:"status"`
	Progress    int         `json:"progress"`
}

// StatusEvent is a job status update received over the stream or a poll.
type StatusEvent struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Stage    string    `json:"stage,omitempty"`
	Progress *int      `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// ReadinessState is the knowledge-base indexing state for a job.
type ReadinessState string

const (
	ReadinessChecking      ReadinessState = "checking"
	ReadinessPendingUpload ReadinessState = "pending_upload"
	ReadinessUploaded      ReadinessState = "uploaded"
	ReadinessFailed        ReadinessState = "failed"
)

// Terminal reports whether readiness polling can stop.
func (s ReadinessState) Terminal() bool {
	return s == ReadinessUploaded || s == ReadinessFailed
}

// ReadinessInfo is the knowledge-base readiness payload for a job.
type ReadinessInfo struct {
	JobID          string         `json:"job_id"`
	State          ReadinessState `json:"rag_status"`
	CollectionName string         `json:"collection_name,omitempty"`
	CanQuery       bool           `json:"can_query"`
	Error          string         `json:"rag_error,omitempty"`
}

// ChatRole distinguishes user questions from assistant answers.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// Citation is a normalized source reference attached to an answer.
type Citation struct {
	Source       string `json:"source"`
	DisplayLabel string `json:"displayLabel"`
}

// ChatMessage is one entry in the assistant conversation for a job.
type ChatMessage struct {
	ID        string     `json:"id"`
	Role      ChatRole   `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Citations []Citation `json:"citations,omitempty"`
}

// JobSummary is one row of the job history listing.
type JobSummary struct {
	ID            string `json:"id"`
	OriginalQuery string `json:"original_query"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

// ExtractedItem is one structured finding from the final report.
type ExtractedItem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Date      string `json:"date"`
	SourceURL string `json:"source_url"`
}

// ExtractedData groups structured findings by category.
type ExtractedData struct {
	News       []ExtractedItem `json:"News"`
	Patents    []ExtractedItem `json:"Patents"`
	Conference []ExtractedItem `json:"Conference"`
	Legalnews  []ExtractedItem `json:"Legalnews"`
	Other      []ExtractedItem `json:"Other"`
}

// JobResult is the completed research deliverable for a job.
type JobResult struct {
	JobID          string         `json:"job_id"`
	Status         string         `json:"status"`
	OriginalQuery  string         `json:"original_query"`
	ReportMarkdown string         `json:"final_report_markdown"`
	Extracted      ExtractedData  `json:"extracted_data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Settings contains user-adjustable client configuration.
type Settings struct {
	BaseURL           string `json:"baseUrl"`
	StreamURL         string `json:"streamUrl"`
	StatusPollMs      int    `json:"statusPollMs"`
	ReadinessPollMs   int    `json:"readinessPollMs"`
	TrackingTimeoutMs int    `json:"trackingTimeoutMs"`
}

// NoticeLevel classifies user-facing notices.
type NoticeLevel string

const (
	NoticeLevelInfo    NoticeLevel = "info"
	NoticeLevelSuccess NoticeLevel = "success"
	NoticeLevelError   NoticeLevel = "error"
)

// Notice is a transient user-visible message pushed to the UI shell.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
