package health

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatus_JSON(t *testing.T) {
	observed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := Record{Status: StatusUnreachable, ObservedAt: observed, Detail: "connection refused"}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := `{"status":"UNREACHABLE","observedAt":"2024-01-02T03:04:05Z","detail":"connection refused"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var decoded Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Status != rec.Status || decoded.Detail != rec.Detail || !decoded.ObservedAt.Equal(rec.ObservedAt) {
		t.Errorf("Unmarshal() = %+v, want %+v", decoded, rec)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "HEALTHY", want: StatusHealthy},
		{in: "degraded", want: StatusDegraded},
		{in: " unreachable ", want: StatusUnreachable},
		{in: "UNKNOWN", want: StatusUnknown},
		{in: "green", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseStatus(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWorst(t *testing.T) {
	tests := []struct {
		name    string
		records map[string]Record
		want    Status
	}{
		{name: "empty", records: nil, want: StatusUnknown},
		{name: "all healthy", records: map[string]Record{
			"a": {Status: StatusHealthy}, "b": {Status: StatusHealthy},
		}, want: StatusHealthy},
		{name: "unknown beats healthy", records: map[string]Record{
			"a": {Status: StatusHealthy}, "b": {Status: StatusUnknown},
		}, want: StatusUnknown},
		{name: "unreachable wins", records: map[string]Record{
			"a": {Status: StatusDegraded}, "b": {Status: StatusUnreachable}, "c": {Status: StatusHealthy},
		}, want: StatusUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Worst(tt.records); got != tt.want {
				t.Errorf("Worst() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_StringUnknownValue(t *testing.T) {
	if got := Status(42).String(); got != "Status(42)" {
		t.Errorf("String() = %q", got)
	}
}
