// Package probe implements health checks for the dependency kinds depwatch
// can monitor.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leslieo2/depwatch/internal/constants"
	"github.com/leslieo2/depwatch/internal/health"
)

const maxBodyBytes = 1 << 20

var userAgent = constants.ServiceName + "/" + constants.Version

// HTTP checks that a URL answers with the expected status code.
type HTTP struct {
	client *http.Client
	target string
	expect int
}

func NewHTTP(target string, expect int, timeout time.Duration) *HTTP {
	if expect == 0 {
		expect = constants.DefaultExpectStatus
	}
	return &HTTP{
		client: &http.Client{Timeout: timeout},
		target: target,
		expect: expect,
	}
}

func (p *HTTP) Check(ctx context.Context) (health.Record, error) {
	resp, err := get(ctx, p.client, p.target, "", "")
	if err != nil {
		return health.Record{}, err
	}
	defer drain(resp)

	if resp.StatusCode != p.expect {
		return health.Record{}, fmt.Errorf("unexpected status %d from %s, want %d", resp.StatusCode, p.target, p.expect)
	}
	return health.Record{
		Status: health.StatusHealthy,
		Detail: fmt.Sprintf("HTTP %d", resp.StatusCode),
	}, nil
}

func get(ctx context.Context, client *http.Client, target, username, password string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(constants.HeaderUserAgent, userAgent)
	req.Header.Set("Accept", constants.ContentTypeJSON)
	if username != "" {
		req.SetBasicAuth(username, password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getJSON issues a GET and decodes a 2xx JSON body into out.
func getJSON(ctx context.Context, client *http.Client, target, username, password string, out any) error {
	resp, err := get(ctx, client, target, username, password)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", target, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}
