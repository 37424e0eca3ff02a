// Package chatclient is the HTTP transport to the chat server. It carries no
// business logic: it sends requests and reports what the server said.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/peerchat/internal/models"
	"github.com/eldtechnologies/peerchat/internal/request"
)

// Envelope headers.
const (
	HeaderAppID          = "X-App-Id"
	HeaderAppVersion     = "X-App-Version"
	HeaderChatName       = "X-Chat-Name"
	HeaderTimestamp      = "X-Timestamp"
	HeaderLatitude       = "X-Latitude"
	HeaderLongitude      = "X-Longitude"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// ChatNameParam is the query parameter carrying the chat name on registration.
const ChatNameParam = "chat-name"

// Client is a chat server API client.
type Client struct {
	HTTPClient *http.Client
}

// NewClient creates a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{HTTPClient: &http.Client{Timeout: timeout}}
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat server error %d", e.StatusCode)
	}
	return fmt.Sprintf("chat server error %d: %s", e.StatusCode, e.Message)
}

// setEnvelope writes the request metadata as headers.
func setEnvelope(h http.Header, env request.Envelope) {
	h.Set(HeaderAppID, env.AppID)
	h.Set(HeaderAppVersion, strconv.FormatInt(env.Version, 10))
	h.Set(HeaderChatName, env.ChatName)
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	h.Set(HeaderTimestamp, strconv.FormatInt(ts.UnixMilli(), 10))
	if env.Latitude != nil {
		h.Set(HeaderLatitude, strconv.FormatFloat(*env.Latitude, 'f', -1, 64))
	}
	if env.Longitude != nil {
		h.Set(HeaderLongitude, strconv.FormatFloat(*env.Longitude, 'f', -1, 64))
	}
}

// endpoint joins the server URI and a path.
func endpoint(serverURI, path string) (string, error) {
	if serverURI == "" {
		return "", fmt.Errorf("no server URI configured")
	}
	base, err := url.Parse(strings.TrimRight(serverURI, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URI %q: %w", serverURI, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("invalid server URI %q: scheme must be http or https", serverURI)
	}
	return base.String() + path, nil
}

// doRequest performs an HTTP request and returns the body of a 2xx reply.
func (c *Client) doRequest(ctx context.Context, method, target string, body []byte, env *request.Envelope, idempotencyKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if env != nil {
		setEnvelope(req.Header, *env)
	}
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Message:    errResp.Error,
		}
	}

	return respBody, nil
}

// Register registers env.ChatName with the server at serverURI.
func (c *Client) Register(ctx context.Context, serverURI string, env request.Envelope) error {
	target, err := endpoint(serverURI, "/chat/register")
	if err != nil {
		return err
	}
	target += "?" + url.Values{ChatNameParam: {env.ChatName}}.Encode()

	_, err = c.doRequest(ctx, http.MethodPost, target, nil, &env, "")
	return err
}

// PostMessageResponse is the server's reply to an accepted message.
type PostMessageResponse struct {
	ID int64 `json:"id"`
}

// PostMessage uploads msg on behalf of env.ChatName and returns the
// server-assigned sequence number.
func (c *Client) PostMessage(ctx context.Context, serverURI string, env request.Envelope, msg *models.Message) (int64, error) {
	target, err := endpoint(serverURI, "/chat/"+url.PathEscape(env.ChatName))
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, target, body, &env, msg.UID)
	if err != nil {
		return 0, err
	}

	var resp PostMessageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("decode post response: %w", err)
	}
	if resp.ID <= 0 {
		return 0, fmt.Errorf("server returned invalid message id %d", resp.ID)
	}
	return resp.ID, nil
}

// MessagesResponse is the server's view of a chatroom.
type MessagesResponse struct {
	Chatroom string                    `json:"chatroom"`
	Messages []models.SequencedMessage `json:"messages"`
	HasMore  bool                      `json:"has_more"`
}

// GetMessages reads sequenced messages of a chatroom after since.
func (c *Client) GetMessages(ctx context.Context, serverURI, chatroom string, since int64, limit int) (*MessagesResponse, error) {
	path := fmt.Sprintf("/chat/rooms/%s/messages?since=%d&limit=%d", url.PathEscape(chatroom), since, limit)
	target, err := endpoint(serverURI, path)
	if err != nil {
		return nil, err
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, target, nil, nil, "")
	if err != nil {
		return nil, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
