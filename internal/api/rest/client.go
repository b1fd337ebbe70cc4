// Package rest is the thin client for the server's REST surface: seeding
// a room's message page and starred list, user lookup, and the direct
// user actions (edit, delete, star, attachment upload). It is a narrow
// external contract; nothing here holds chat state.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/immxrtalbeast/chatsync/internal/domain"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer credential used on every request.
func (c *Client) SetToken(token string) { c.token = token }

// Messages fetches the initial message page that seeds a room timeline.
func (c *Client) Messages(ctx context.Context, roomID string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.getJSON(ctx, "/messages/"+url.PathEscape(roomID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Starred fetches a room's starred-message list.
func (c *Client) Starred(ctx context.Context, roomID string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.getJSON(ctx, "/messages/"+url.PathEscape(roomID)+"/starred", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// User looks a profile up by id, used to populate incoming-call display.
func (c *Client) User(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Edit updates a message's content and returns the server's version.
func (c *Client) Edit(ctx context.Context, messageID, content string) (*domain.Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Message domain.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID), bytes.NewReader(body), "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}

// Delete removes a message server-side.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, "", nil)
}

// Star marks a message starred for the authenticated viewer.
func (c *Client) Star(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/star", nil, "", nil)
}

// Unstar removes the viewer's star.
func (c *Client) Unstar(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/unstar", nil, "", nil)
}

// UploadAttachment posts a file for a room and returns the message the
// server created for it.
func (c *Client) UploadAttachment(ctx context.Context, roomID, filename string, r io.Reader) (*domain.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(roomID)+"/attachment", &buf, mw.FormDataContentType(), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
