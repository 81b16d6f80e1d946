package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the enumerated health of a monitored dependency.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusDegraded
	StatusUnreachable
)

var statusNames = map[Status]string{
	StatusUnknown:     "UNKNOWN",
	StatusHealthy:     "HEALTHY",
	StatusDegraded:    "DEGRADED",
	StatusUnreachable: "UNREACHABLE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Severity orders statuses for aggregation. Higher is worse.
func (s Status) Severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnknown:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnreachable:
		return 3
	default:
		return 1
	}
}

// ParseStatus parses the upper- or lower-case text form of a status.
func ParseStatus(text string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(text))
	for s, name := range statusNames {
		if name == upper {
			return s, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown health status %q", text)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Record is the outcome of the most recent probe of one dependency.
// A published Record is never mutated; samplers replace it wholesale.
type Record struct {
	Status     Status    `json:"status"`
	ObservedAt time.Time `json:"observedAt"`
	Detail     string    `json:"detail,omitempty"`
}

// Age returns how old the record is relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.ObservedAt)
}

// Worst returns the most severe status among records, or StatusUnknown when
// there are none.
func Worst(records map[string]Record) Status {
	if len(records) == 0 {
		return StatusUnknown
	}
	worst := StatusHealthy
	for _, rec := range records {
		if rec.Status.Severity() > worst.Severity() {
			worst = rec.Status
		}
	}
	return worst
}

// Probe performs one bounded-latency, idempotent health check.
type Probe interface {
	Check(ctx context.Context) (Record, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (Record, error)

func (f ProbeFunc) Check(ctx context.Context) (Record, error) {
	return f(ctx)
}

// Observer receives every completed probe. err is nil on success.
type Observer interface {
	ObserveProbe(dependency string, rec Record, duration time.Duration, err error)
}
