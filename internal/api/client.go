// Package api is the REST client used by headless session participants.
// It covers the calls a channel cannot serve: login, history fetch and the
// store-and-forward chat fallback.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/studyroom/backend/internal/models"
)

// Client talks to the study room REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client. baseURL is the server root, e.g.
// "http://localhost:8080".
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns the credential the client authenticates with.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp models.LoginResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	c.token = resp.Token
	return nil
}

// GetMessages fetches a session's chat history, oldest first.
func (c *Client) GetMessages(ctx context.Context, sessionID int64) ([]models.Message, error) {
	url := fmt.Sprintf("%s/api/sessions/%d/messages", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return resp.Messages, nil
}

// SendMessage stores a chat message over REST. Used when the channel send
// fails; the server does not broadcast it, so the caller keeps its local copy.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, content string) (*models.Message, error) {
	body, err := json.Marshal(models.SendMessageRequest{SessionID: sessionID, Content: content})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var msg models.Message
	if err := c.do(req, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// JoinSession joins a session by invite code.
func (c *Client) JoinSession(ctx context.Context, inviteCode string) (*models.Session, error) {
	body, err := json.Marshal(models.JoinSessionRequest{InviteCode: inviteCode})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sessions/join", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var session models.Session
	if err := c.do(req, &session); err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	return &session, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
