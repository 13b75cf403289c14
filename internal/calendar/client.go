// Package calendar is a client for the Recurse-style calendar REST API that
// owns event, participant and RSVP data.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAPIRoot = "https://www.recurse.com/api/v1"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 2048
)

// ClientConfig configures a calendar Client.
type ClientConfig struct {
	APIRoot      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// RequestsPerSecond caps outbound calls. Zero means unlimited.
	RequestsPerSecond float64
}

// Client talks to the calendar API with HTTP basic auth.
type Client struct {
	apiRoot string
	id      string
	secret  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	root := cfg.APIRoot
	if root == "" {
		root = DefaultAPIRoot
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		apiRoot: strings.TrimRight(root, "/"),
		id:      cfg.ClientID,
		secret:  cfg.ClientSecret,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// GetEvent fetches one event. It returns nil, nil when the calendar has no such event.
func (c *Client) GetEvent(ctx context.Context, id int64, includeParticipants bool) (*Event, error) {
	q := url.Values{}
	if includeParticipants {
		q.Set("include_participants", "true")
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/events/%d", id), q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var ev Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, fmt.Errorf("calendar: decode event %d: %w", id, err)
	}
	return &ev, nil
}

// ListEvents returns events created at or after the given time.
func (c *Client) ListEvents(ctx context.Context, createdAtOrAfter time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("created_at_or_after", createdAtOrAfter.UTC().Format(time.RFC3339))

	resp, err := c.do(ctx, http.MethodGet, "/events", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("calendar: decode events: %w", err)
	}
	return events, nil
}

type participationRequest struct {
	ZulipID string `json:"zulip_id"`
}

// Join RSVPs a chat user to an event. A refused RSVP is not an error:
// the calendar answers 422 with flags describing why.
func (c *Client) Join(ctx context.Context, id int64, userRef string) (*JoinResult, error) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/join", id), nil,
		participationRequest{ZulipID: userRef})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result JoinResult
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if err := decodeOptional(resp.Body, &result); err != nil {
			return nil, fmt.Errorf("calendar: decode join result: %w", err)
		}
		result.Joined = true
	case http.StatusUnprocessableEntity:
		if err := decodeOptional(resp.Body, &result); err != nil {
			return nil, fmt.Errorf("calendar: decode join refusal: %w", err)
		}
		result.Joined = false
	default:
		return nil, apiError(resp)
	}
	return &result, nil
}

// Leave removes a chat user's RSVP. Leaving an event the user never joined succeeds.
func (c *Client) Leave(ctx context.Context, id int64, userRef string) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/leave", id), nil,
		participationRequest{ZulipID: userRef})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil
	default:
		return apiError(resp)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("calendar: rate limit wait: %w", err)
	}

	u := c.apiRoot + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("calendar: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("calendar: create request: %w", err)
	}
	req.SetBasicAuth(c.id, c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
}

// decodeOptional decodes JSON into v, treating an empty body as "no fields".
func decodeOptional(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
