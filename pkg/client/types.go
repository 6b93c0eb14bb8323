package client

import "time"

// Application is one entry of a profile as served by the daemon.
type Application struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Arguments string `json:"arguments"`
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`

	// DetectedBy is only filled by Detect.
	DetectedBy string    `json:"detected_by,omitempty"`
	LastExit   *LastExit `json:"last_exit,omitempty"`
}

// LastExit is how an application's most recent child ended.
type LastExit struct {
	PID       int       `json:"pid"`
	Err       string    `json:"err,omitempty"`
	Killed    bool      `json:"killed"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

// Profile is a named group of applications and its running flag.
type Profile struct {
	Name         string        `json:"name"`
	Running      bool          `json:"running"`
	Applications []Application `json:"applications"`
}

// AppRequest adds an application.
type AppRequest struct {
	Name      string `json:"name,omitempty"`
	Path      string `json:"path"`
	Arguments string `json:"arguments,omitempty"`
}

// AppUpdate changes the non-nil fields of an application.
type AppUpdate struct {
	Name      *string `json:"name,omitempty"`
	Path      *string `json:"path,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

// Warning is a per-entry failure reported by a batch operation.
type Warning struct {
	Profile string `json:"profile"`
	Entry   string `json:"entry"`
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result is the outcome of launch or stop.
type Result struct {
	Profile  string    `json:"profile"`
	Action   string    `json:"action"`
	Running  bool      `json:"running"`
	Started  []string  `json:"started,omitempty"`
	Skipped  []string  `json:"skipped,omitempty"`
	Killed   int       `json:"killed"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Status is the daemon-wide state.
type Status struct {
	Launching bool     `json:"launching"`
	Running   []string `json:"running"`
	Profiles  int      `json:"profiles"`
}

// Event is one engine state change from the events stream.
type Event struct {
	Kind    string    `json:"kind"`
	Profile string    `json:"profile"`
	Entry   string    `json:"entry,omitempty"`
	Index   int       `json:"index"`
	PID     int       `json:"pid,omitempty"`
	Running bool      `json:"running"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// HistoryRecord identifies the entry a history event is about.
type HistoryRecord struct {
	Profile string `json:"profile"`
	Entry   string `json:"entry"`
	Path    string `json:"path"`
	PID     int    `json:"pid"`
	ExitErr string `json:"exit_err,omitempty"`
}

// HistoryEvent is one stored launch history event.
type HistoryEvent struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Record     HistoryRecord `json:"record"`
}

// Resource is the last CPU and memory sample of a live entry.
type Resource struct {
	Profile    string    `json:"profile"`
	Entry      string    `json:"entry"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
