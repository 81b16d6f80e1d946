package observability

import (
	"time"

	"github.com/leslieo2/depwatch/internal/constants"
)

// Liveness is the payload of the liveness endpoint. It describes the process
// itself, never the monitored dependencies.
type Liveness struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

func NewLiveness(startedAt, now time.Time) Liveness {
	return Liveness{
		Status:    "alive",
		Timestamp: now.UTC(),
		Version:   constants.Version,
		Uptime:    now.Sub(startedAt).Round(time.Second).String(),
	}
}
