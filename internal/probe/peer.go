package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/leslieo2/depwatch/internal/health"
)

// peerReport is the subset of a peer's status document we read. A depwatch
// peer's /resources endpoint produces the same shape.
type peerReport struct {
	Status        string   `json:"status"`
	Service       string   `json:"service"`
	CPUPercent    *float64 `json:"cpuPercent"`
	MemoryPercent *float64 `json:"memoryPercent"`
}

// Peer asks another service for its self-reported status.
type Peer struct {
	client *http.Client
	target string
}

func NewPeer(target string, timeout time.Duration) *Peer {
	return &Peer{
		client: &http.Client{Timeout: timeout},
		target: target,
	}
}

func (p *Peer) Check(ctx context.Context) (health.Record, error) {
	var report peerReport
	if err := getJSON(ctx, p.client, p.target, "", "", &report); err != nil {
		return health.Record{}, err
	}

	detail := "status=" + report.Status
	if report.Service != "" {
		detail = "service=" + report.Service + " " + detail
	}
	if report.CPUPercent != nil && report.MemoryPercent != nil {
		detail += fmt.Sprintf(" cpu=%.1f%% memory=%.1f%%", *report.CPUPercent, *report.MemoryPercent)
	}

	return health.Record{Status: peerStatus(report.Status), Detail: detail}, nil
}

func peerStatus(reported string) health.Status {
	switch strings.ToLower(strings.TrimSpace(reported)) {
	case "running", "healthy", "ok", "up":
		return health.StatusHealthy
	default:
		return health.StatusDegraded
	}
}
