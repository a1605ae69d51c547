// Package analysis is the client of the Cognitive Core, the language model
// service behind the radar and predictive modules.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Kind classifies a failed call.
type Kind string

const (
	KindNetwork   Kind = "network"
	KindTimeout   Kind = "timeout"
	KindAuth      Kind = "auth"
	KindMalformed Kind = "malformed"
	KindUpstream  Kind = "upstream"
)

// Error is returned by Analyze for every failure.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("analysis %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("analysis %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when it is not an analysis error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	// ErrNotConfigured is returned when no endpoint was configured.
	ErrNotConfigured  = errors.New("analysis service not configured")
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// Engine selects the prompt and the shape of the answer.
type Engine string

const (
	EngineRadar      Engine = "radar"
	EnginePredictive Engine = "predictive"
	EnginePrime      Engine = "predictive_prime"
)

// Request is one analysis. Context is the organisation profile for the radar,
// Query the question for the predictive engines.
type Request struct {
	Engine  Engine         `json:"engine"`
	Query   string         `json:"query,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Horizon string         `json:"horizon,omitempty"`
}

// Result holds the model answer. Data is set for engines answering in JSON.
type Result struct {
	Engine Engine         `json:"engine"`
	Text   string         `json:"text,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration

	// MaxAttempts bounds retries of network and 5xx failures.
	MaxAttempts   uint
	RetryInterval time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, hc *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze runs req against the Cognitive Core within the configured timeout.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	if c.cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	body, err := buildPrompt(c.cfg.Model, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	op := func() (string, error) {
		return c.complete(ctx, body)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxAttempts),
	)
	if err != nil {
		err = classify(ctx, err)
		log.Warn().Err(err).Str("engine", string(req.Engine)).Dur("took", time.Since(start)).Msg("Analysis failed")
		return nil, err
	}

	res := &Result{Engine: req.Engine}
	if req.Engine == EngineRadar {
		data := ExtractJSON(text)
		if data == nil {
			return nil, &Error{Kind: KindMalformed, Err: errors.New("no JSON object in answer")}
		}
		res.Data = data
	} else {
		res.Text = text
	}
	log.Debug().Str("engine", string(req.Engine)).Dur("took", time.Since(start)).Msg("Analysis completed")
	return res, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	url := strings.TrimRight(c.cfg.URL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(&Error{Kind: KindNetwork, Err: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", backoff.Permanent(&Error{Kind: KindAuth, Status: resp.StatusCode, Err: errors.New("credentials refused")})
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &Error{Kind: KindUpstream, Status: resp.StatusCode, Err: errors.New(snippet(raw))}
	case resp.StatusCode >= 300:
		return "", backoff.Permanent(&Error{Kind: KindUpstream, Status: resp.StatusCode, Err: errors.New(snippet(raw))})
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", backoff.Permanent(&Error{Kind: KindMalformed, Err: err})
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", backoff.Permanent(&Error{Kind: KindMalformed, Err: errors.New("empty answer")})
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// classify turns deadline failures into KindTimeout.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: context.DeadlineExceeded}
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty body"
	}
	return s
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON returns the outermost JSON object found in text, or nil.
func ExtractJSON(text string) map[string]any {
	m := jsonObject.FindString(text)
	if m == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(m), &out); err != nil {
		return nil
	}
	return out
}
