// Package report implements the fire-and-forget collector sink. Events are
// sent once, never queued, never retried; a send failure is a warning and
// never affects the reconciliation outcome or the process exit status.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/openberth/berth/pkg/engine"
)

// transportErrorCode marks events that never produced an HTTP status.
const transportErrorCode = "000"

// Event is the collector wire contract.
type Event struct {
	// ID is the installation identifier for this invocation.
	ID string `json:"id"`

	// Stage names the pipeline or lifecycle stage the event belongs to.
	Stage string `json:"stage"`

	// Status is one of started, success, failure, completed.
	Status string `json:"status"`

	// Message is free text.
	Message string `json:"message"`

	// Timestamp is epoch seconds at send time.
	Timestamp int64 `json:"timestamp"`

	// Version is the orchestrator version.
	Version string `json:"version"`
}

// Config describes the collector endpoint.
type Config struct {
	// Endpoint is the collector URL events are POSTed to.
	Endpoint string

	// Token is the bearer token for authentication.
	Token string

	// Timeout bounds a single send.
	Timeout time.Duration
}

// Client sends report events over HTTP. It implements engine.Reporter.
type Client struct {
	config    Config
	installID string
	version   string
	httpc     *http.Client
	logger    zerolog.Logger
}

// NewClient creates a reporter for one invocation's install identity.
func NewClient(cfg Config, installID, version string, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		config:    cfg,
		installID: installID,
		version:   version,
		httpc:     &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With().Str("component", "reporter").Logger(),
	}
}

// Send implements engine.Reporter. Success is HTTP 200 exactly; any other
// response, and any transport error (code "000"), is a reporting-class
// failure for the caller to log and discard.
func (c *Client) Send(ctx context.Context, stage string, status engine.ReportStatus, message string) error {
	event := Event{
		ID:        c.installID,
		Stage:     stage,
		Status:    string(status),
		Message:   message,
		Timestamp: time.Now().Unix(),
		Version:   c.version,
	}

	body, err := json.Marshal(event)
	if err != nil {
		return engine.NewReportingError("failed to encode report event", err).
			WithCode(transportErrorCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return engine.NewReportingError("failed to build report request", err).
			WithCode(transportErrorCode)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return engine.NewReportingError("report send failed", err).
			WithCode(transportErrorCode)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return engine.NewReportingError(
			fmt.Sprintf("collector rejected report event with status %d", resp.StatusCode), nil).
			WithCode(fmt.Sprintf("%03d", resp.StatusCode)).
			WithOperation(stage)
	}

	c.logger.Debug().
		Str("stage", stage).
		Str("status", string(status)).
		Msg("Report event sent")
	return nil
}
