package output

// Status is the outcome recorded in a report.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ReportError describes why a run failed.
type ReportError struct {
	Reason  string `json:"reason,omitempty"`
	State   string `json:"state,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}
