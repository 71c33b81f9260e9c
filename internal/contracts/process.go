package contracts

import "time"

// ProcessRun is one orchestrated multi-stage execution
type ProcessRun struct {
	ProcessID       string               `json:"process_id"`
	FicMisDate      time.Time            `json:"fic_mis_date"`
	RunKey          *int64               `json:"run_key,omitempty"`
	Status          Status               `json:"status"`
	CancelRequested bool                 `json:"cancel_requested"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      *time.Time           `json:"finished_at,omitempty"`
	Error           string               `json:"error,omitempty"`
	Stages          []ProcessStageStatus `json:"stages"`
}

// ProcessStageStatus is the per-stage status row of a process
type ProcessStageStatus struct {
	Seq        int        `json:"seq"`
	Stage      Stage      `json:"stage"`
	Status     Status     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Log levels accepted by the logging sink
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// LogEntry is one persisted logging-sink record
type LogEntry struct {
	LoggedAt time.Time
	Source   string
	Level    string
	Message  string
}
