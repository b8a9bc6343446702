// Package api is the REST client for the Voynich backend: temp token
// issuance, chat creation and the one-shot chat snapshot.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pattersondev/voynich-client/internal/models"
)

// ErrNotFound means the chat never existed or has been purged. Terminal
// for the session that asked.
var ErrNotFound = errors.New("chat not found")

// TokenStore persists the latest chat auth token between requests.
type TokenStore interface {
	SetChatToken(token string)
	ChatToken() string
}

// Client is a Voynich API client. A nil TokenStore disables token
// persistence but not the client itself.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenStore
}

func NewClient(baseURL string, tokens TokenStore) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Tokens:     tokens,
	}
}

// doRequest performs a single HTTP request. The stored chat token rides
// along in x-auth-token unless the caller overrides it.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token == "" && c.Tokens != nil {
		token = c.Tokens.ChatToken()
	}
	if token != "" {
		req.Header.Set("x-auth-token", token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voynich request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voynich response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("voynich error %d: %s", resp.StatusCode, errResp.Error)
	}
	return respBody, nil
}

// TempToken obtains a short-lived token scoped to chat creation.
func (c *Client) TempToken(ctx context.Context) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/temp-token", nil, "")
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// CreateChatResponse is the result of creating a chat.
type CreateChatResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// CreateChat creates a chat that lives for the given duration (one of
// 1h, 24h, 1w, 1m) and stores the returned chat token.
func (c *Client) CreateChat(ctx context.Context, duration string) (*CreateChatResponse, error) {
	if _, ok := models.Durations[duration]; !ok {
		return nil, fmt.Errorf("invalid duration %q", duration)
	}
	temp, err := c.TempToken(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"duration": duration})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/chats", body, temp)
	if err != nil {
		return nil, err
	}

	var resp CreateChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if c.Tokens != nil {
		c.Tokens.SetChatToken(resp.Token)
	}
	return &resp, nil
}

// Snapshot fetches the chat metadata and message history in one shot.
// No internal retry; a transient failure is the caller's to handle.
func (c *Client) Snapshot(ctx context.Context, chatID string) (*models.Snapshot, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/chats/"+chatID, nil, "")
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(respBody, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// SocketURL derives the websocket endpoint from the base URL.
func (c *Client) SocketURL() string {
	u := c.BaseURL
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://") + "/ws"
	}
	return "ws://" + strings.TrimPrefix(u, "http://") + "/ws"
}
