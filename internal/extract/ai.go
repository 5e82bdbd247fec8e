package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pricewatcher/internal/currency"
	"pricewatcher/internal/logging"
)

const extractionPrompt = `You extract product data from HTML. Respond with a single JSON object: {"title": string, "price": string, "currency": string}. price is the current product price as displayed, currency its ISO 4217 code. Use empty strings for anything not present. No prose.`

// AIOptions parameterise the structured-extraction model call.
type AIOptions struct {
	Endpoint string
	APIKey   string
	Model    string
	MaxHTML  int
	Timeout  time.Duration
}

// AI calls a chat-completions endpoint asking for strict structured output
// over truncated, script-stripped HTML.
type AI struct {
	opts     AIOptions
	client   *http.Client
	endpoint string
	logger   zerolog.Logger
}

// NewAI constructs the structured extractor.
func NewAI(opts AIOptions, logger zerolog.Logger) *AI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if opts.MaxHTML <= 0 {
		opts.MaxHTML = 48000
	}

	return &AI{
		opts:     opts,
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint + "/chat/completions",
		logger:   logging.Component(logger, "ai_extractor"),
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type extractionPayload struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// ExtractStructured sends the prepared HTML and parses the model's JSON.
func (a *AI) ExtractStructured(ctx context.Context, html string) (Result, error) {
	if a.opts.APIKey == "" {
		return Result{}, &Error{Kind: KindProvider, Err: errors.New("ai api key not configured")}
	}

	prepared := PrepareHTML(html, a.opts.MaxHTML)

	reqPayload := chatRequest{
		Model: a.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionPrompt},
			{Role: "user", Content: prepared},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return Result{}, &Error{Kind: KindProvider, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Kind: KindProvider, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.opts.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, &Error{Kind: KindProvider, Err: err}
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &Error{Kind: KindProvider, Err: err}
	}

	var chat chatResponse
	if err := json.Unmarshal(payloadBytes, &chat); err != nil {
		return Result{}, &Error{Kind: KindProvider, Err: fmt.Errorf("decode model response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		if chat.Error != nil && chat.Error.Message != "" {
			return Result{}, &Error{Kind: KindProvider, Err: fmt.Errorf("model api (%d): %s", resp.StatusCode, chat.Error.Message)}
		}
		return Result{}, &Error{Kind: KindProvider, Err: fmt.Errorf("model api (%d)", resp.StatusCode)}
	}
	if len(chat.Choices) == 0 {
		return Result{}, &Error{Kind: KindProvider, Err: errors.New("model returned no choices")}
	}

	var extracted extractionPayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &extracted); err != nil {
		return Result{}, &Error{Kind: KindProvider, Err: fmt.Errorf("decode structured output: %w", err)}
	}

	result := Result{Title: strings.TrimSpace(extracted.Title)}
	if price, code := currency.Parse(extracted.Price); price != nil {
		result.Price = price
		result.Currency = code
	}
	if code := strings.ToUpper(strings.TrimSpace(extracted.Currency)); len(code) == 3 {
		result.Currency = code
	}
	return result, nil
}

var _ StructuredExtractor = (*AI)(nil)

var (
	scriptPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	stylePattern  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
)

// PrepareHTML strips scripts and styles and truncates to maxLen so the
// model call stays within budget.
func PrepareHTML(html string, maxLen int) string {
	cleaned := scriptPattern.ReplaceAllString(html, "")
	cleaned = stylePattern.ReplaceAllString(cleaned, "")
	if maxLen > 0 && len(cleaned) > maxLen {
		cleaned = cleaned[:maxLen]
	}
	return cleaned
}
