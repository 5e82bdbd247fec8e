package extract

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
)

// StaticOptions parameterise the static fetch tier.
type StaticOptions struct {
	Timeout   time.Duration
	UserAgent string
}

// Static is the plain HTTP GET + selector scan strategy. It is fast and
// free; on scripted/SPA pages it returns an incomplete result instead of an
// error so the chain escalates quietly.
type Static struct {
	opts   StaticOptions
	client *http.Client
	logger zerolog.Logger
}

// NewStatic constructs the static fetcher.
func NewStatic(opts StaticOptions, logger zerolog.Logger) *Static {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &Static{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logging.Component(logger, "static_fetcher"),
	}
}

// Fetch GETs the page and scans it.
func (s *Static) Fetch(ctx context.Context, url string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, &Error{Kind: KindNetwork, Tier: TierStatic, Err: err}
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, &Error{Kind: classifyTransportError(err), Tier: TierStatic, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, &Error{Kind: KindNetwork, Tier: TierStatic, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, &Error{Kind: classifyStatus(resp.StatusCode, body), Tier: TierStatic, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	return ScanHTML(string(body)), nil
}

var _ StaticFetcher = (*Static)(nil)

// classifyTransportError distinguishes timeouts from plain network faults.
func classifyTransportError(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

var botWallMarkers = []string{
	"captcha", "access denied", "are you a robot", "unusual traffic",
	"request blocked", "attention required", "verify you are human",
}

// classifyStatus maps an HTTP failure to a kind: 4xx with a suspicious body
// is a bot wall, 429/403 always are, 5xx is a network-class failure.
func classifyStatus(status int, body []byte) Kind {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return KindBotWall
	}
	if status >= 400 && status < 500 {
		lower := strings.ToLower(string(body))
		for _, marker := range botWallMarkers {
			if strings.Contains(lower, marker) {
				return KindBotWall
			}
		}
		return KindNoData
	}
	return KindNetwork
}
