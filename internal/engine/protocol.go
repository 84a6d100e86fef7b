package engine

import (
	"github.com/swaplab/swapd/internal/pagecache"
)

// Request is sent from the CLI to the running daemon over the control
// socket. Newline-delimited JSON, one request per connection.
type Request struct {
	Type string `json:"type"` // "status", "stop"
}

// Response is sent back from the daemon.
type Response struct {
	Type   string  `json:"type"` // "status", "ok", "error"
	Status *Status `json:"status,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// WorkerStatus describes one worker's progress.
type WorkerStatus struct {
	ID         int    `json:"id"`
	Iterations uint64 `json:"iterations"`
	Errors     uint64 `json:"errors"`
	QueueLen   int    `json:"queue_len"`
}

// Status describes the running daemon.
type Status struct {
	PID           int             `json:"pid"`
	UptimeSeconds int             `json:"uptime_seconds"`
	ImagePath     string          `json:"image_path"`
	Cores         int             `json:"cores"`
	Cache         pagecache.Stats `json:"cache"`
	Workers       []WorkerStatus  `json:"workers"`
	Migrations    uint64          `json:"migrations"`
	RingAppends   uint64          `json:"ring_appends"`
	RingOverflows uint64          `json:"ring_overflows"`
}
