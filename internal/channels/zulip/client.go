package zulip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// CodeBadEventQueue is returned by /events when the server has expired the queue.
const CodeBadEventQueue = "BAD_EVENT_QUEUE_ID"

const (
	defaultRequestTimeout = 30 * time.Second
	// Long polls are held open by the server for up to ~90s between heartbeats.
	pollTimeout = 120 * time.Second
)

// APIError is a non-success reply from the Zulip REST API.
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zulip: HTTP %d %s: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("zulip: HTTP %d: %s", e.Status, e.Msg)
}

// IsBadEventQueue reports whether err means the event queue must be re-registered.
func IsBadEventQueue(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeBadEventQueue
}

// Client is a minimal Zulip REST client authenticated with a bot email and API key.
type Client struct {
	site   string
	email  string
	apiKey string
	client *http.Client
	poll   *http.Client
	sends  *rate.Limiter
}

// NewClient creates a client. sendsPerSecond limits SendMessage; zero means unlimited.
func NewClient(site, email, apiKey string, sendsPerSecond float64) *Client {
	sends := rate.NewLimiter(rate.Inf, 1)
	if sendsPerSecond > 0 {
		burst := int(sendsPerSecond)
		if burst < 1 {
			burst = 1
		}
		sends = rate.NewLimiter(rate.Limit(sendsPerSecond), burst)
	}
	return &Client{
		site:   strings.TrimRight(site, "/"),
		email:  email,
		apiKey: apiKey,
		client: &http.Client{Timeout: defaultRequestTimeout},
		poll:   &http.Client{Timeout: pollTimeout},
		sends:  sends,
	}
}

// Site returns the server root, e.g. "https://recurse.zulipchat.com".
func (c *Client) Site() string { return c.site }

// User is a realm member.
type User struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsBot    bool   `json:"is_bot"`
}

// Message is a chat message as delivered in a "message" event.
type Message struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"` // "stream" or "private"
	SenderID       int64           `json:"sender_id"`
	SenderEmail    string          `json:"sender_email"`
	SenderFullName string          `json:"sender_full_name"`
	Subject        string          `json:"subject"`
	Content        string          `json:"content"`
	Recipient      json.RawMessage `json:"display_recipient"` // stream name, or list of users for private messages
}

// StreamName returns the stream of a stream message, or "" for private messages.
func (m *Message) StreamName() string {
	var name string
	if err := json.Unmarshal(m.Recipient, &name); err != nil {
		return ""
	}
	return name
}

// Event is one entry of an event queue poll.
type Event struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Op      string   `json:"op,omitempty"`
	Message *Message `json:"message,omitempty"`
	Person  *User    `json:"person,omitempty"`
}

// Queue identifies a registered event queue and the last event seen on it.
type Queue struct {
	ID          string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

type apiResult struct {
	Result string `json:"result"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
}

// Me returns the bot's own account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		apiResult
		User
	}
	if err := c.call(ctx, c.client, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Users lists all realm members.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out struct {
		apiResult
		Members []User `json:"members"`
	}
	if err := c.call(ctx, c.client, http.MethodGet, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// Streams lists the names of all streams visible to the bot.
func (c *Client) Streams(ctx context.Context) ([]string, error) {
	var out struct {
		apiResult
		Streams []struct {
			Name string `json:"name"`
		} `json:"streams"`
	}
	if err := c.call(ctx, c.client, http.MethodGet, "/streams", nil, &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Streams))
	for _, s := range out.Streams {
		names = append(names, s.Name)
	}
	return names, nil
}

// Subscribe adds the bot to the given streams.
func (c *Client) Subscribe(ctx context.Context, streams []string) error {
	subs := make([]map[string]string, 0, len(streams))
	for _, s := range streams {
		subs = append(subs, map[string]string{"name": s})
	}
	encoded, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	form := url.Values{"subscriptions": {string(encoded)}}
	return c.call(ctx, c.client, http.MethodPost, "/users/me/subscriptions", form, &apiResult{})
}

// Register creates an event queue for the given event types. Message content is
// delivered as the raw markdown the sender typed.
func (c *Client) Register(ctx context.Context, eventTypes []string) (*Queue, error) {
	encoded, err := json.Marshal(eventTypes)
	if err != nil {
		return nil, err
	}
	form := url.Values{
		"event_types":    {string(encoded)},
		"apply_markdown": {"false"},
	}
	var out struct {
		apiResult
		Queue
	}
	if err := c.call(ctx, c.client, http.MethodPost, "/register", form, &out); err != nil {
		return nil, err
	}
	return &out.Queue, nil
}

// Events long-polls the queue for events after q.LastEventID.
func (c *Client) Events(ctx context.Context, q *Queue) ([]Event, error) {
	query := url.Values{
		"queue_id":      {q.ID},
		"last_event_id": {strconv.FormatInt(q.LastEventID, 10)},
	}
	var out struct {
		apiResult
		Events []Event `json:"events"`
	}
	if err := c.call(ctx, c.poll, http.MethodGet, "/events?"+query.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// SendStream posts content to a stream topic.
func (c *Client) SendStream(ctx context.Context, stream, topic, content string) error {
	return c.send(ctx, url.Values{
		"type":    {"stream"},
		"to":      {stream},
		"topic":   {topic},
		"content": {content},
	})
}

// SendPrivate sends content as a private message to one recipient.
func (c *Client) SendPrivate(ctx context.Context, email, content string) error {
	to, err := json.Marshal([]string{email})
	if err != nil {
		return err
	}
	return c.send(ctx, url.Values{
		"type":    {"private"},
		"to":      {string(to)},
		"content": {content},
	})
}

func (c *Client) send(ctx context.Context, form url.Values) error {
	if err := c.sends.Wait(ctx); err != nil {
		return err
	}
	return c.call(ctx, c.client, http.MethodPost, "/messages", form, &apiResult{})
}

// call issues one API request and decodes a success body into out.
func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.site+"/api/v1"+path, body)
	if err != nil {
		return fmt.Errorf("zulip: create request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("zulip: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zulip: read response: %w", err)
	}

	var result apiResult
	_ = json.Unmarshal(data, &result)
	if resp.StatusCode != http.StatusOK || result.Result != "success" {
		msg := result.Msg
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Code: result.Code, Msg: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("zulip: decode %s: %w", path, err)
	}
	return nil
}
