// Package report hands a finished digest to the external render-and-send
// service. Formatting and delivery live on the other side of the wire; this
// side only guarantees the payload carries one row per active product.
package report

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
	"pricewatcher/internal/trend"
)

// Request is the outbound digest payload.
type Request struct {
	GeneratedAt time.Time       `json:"generated_at"`
	TriggeredBy string          `json:"triggered_by"`
	Rows        []trend.Summary `json:"rows"`
}

// Emitter delivers one report request per completed digest.
type Emitter interface {
	Emit(ctx context.Context, req Request) error
}

// HTTPEmitter posts the digest payload to the render/send endpoint.
type HTTPEmitter struct {
	endpoint string
	token    string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPEmitter constructs the emitter.
func NewHTTPEmitter(endpoint, token string, timeout time.Duration, logger zerolog.Logger) *HTTPEmitter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPEmitter{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "report_emitter"),
	}
}

// Emit posts the payload; any non-2xx response is an error.
func (e *HTTPEmitter) Emit(ctx context.Context, reportReq Request) error {
	if e.endpoint == "" {
		return fmt.Errorf("report endpoint not configured")
	}

	body, err := json.Marshal(reportReq)
	if err != nil {
		return fmt.Errorf("marshal report payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send report request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report service returned %d", resp.StatusCode)
	}

	unavailable := 0
	for _, row := range reportReq.Rows {
		if row.Unavailable() {
			unavailable++
		}
	}
	e.logger.Info().
		Int("rows", len(reportReq.Rows)).
		Int("unavailable", unavailable).
		Str("triggered_by", reportReq.TriggeredBy).
		Msg("report emitted")
	return nil
}

var _ Emitter = (*HTTPEmitter)(nil)
