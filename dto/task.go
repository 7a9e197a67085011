package dto

type TaskResponse struct {
	ID          string  `json:"id"`
	TraceID     string  `json:"trace_id,omitempty"`
	Type        string  `json:"type"`
	StorageKey  string  `json:"storage_key"`
	Status      string  `json:"status"`
	Attempts    int     `json:"attempts"`
	MaxAttempts int     `json:"max_attempts"`
	LastError   string  `json:"last_error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// ProcessingResponse tells a client the artifact is being generated.
// Distinct from a 404: the source exists and the result will appear.
type ProcessingResponse struct {
	Status     string `json:"status"`
	TaskID     string `json:"task_id"`
	RetryAfter int    `json:"retry_after_seconds"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
