// Package graphmail implements C11: listing and deleting messages via
// Microsoft Graph's HTTPS JSON API, using the same fasthttp client idiom as
// internal/oauthbroker.
package graphmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"mailgateway/internal/apierr"
	"mailgateway/internal/proxydial"
)

const (
	baseURL        = "https://graph.microsoft.com/v1.0"
	requestTimeout = 30 * time.Second
)

type Message struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
	HTML    string    `json:"html"`
	Date    time.Time `json:"date"`
}

type Client struct {
	baseURL string
}

type Option func(*Client)

// WithBaseURL overrides the Graph API base URL, for pointing at a test double.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func New(opts ...Option) *Client {
	c := &Client{baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FolderAlias maps the gateway's folder name to Graph's mail folder id.
func FolderAlias(folder string) string {
	switch strings.ToLower(folder) {
	case "junk":
		return "junkemail"
	case "":
		return "inbox"
	default:
		return strings.ToLower(folder)
	}
}

// List fetches up to limit messages from folder, most recent first.
func (c *Client) List(ctx context.Context, accessToken, folder string, limit int, proxy proxydial.Spec) ([]Message, error) {
	url := fmt.Sprintf("%s/me/mailFolders/%s/messages?$top=%d&$orderby=receivedDateTime%%20desc",
		c.baseURL, FolderAlias(folder), limit)

	body, status, err := c.do(ctx, fasthttp.MethodGet, url, accessToken, nil, proxy)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, apierr.ErrGraphAPIFailed(fmt.Sprintf("graph list failed: status=%d body=%s", status, body))
	}

	var parsed struct {
		Value []struct {
			ID      string `json:"id"`
			From    struct {
				EmailAddress struct {
					Address string `json:"address"`
				} `json:"emailAddress"`
			} `json:"from"`
			Subject      string `json:"subject"`
			BodyPreview  string `json:"bodyPreview"`
			Body         struct {
				Content string `json:"content"`
			} `json:"body"`
			ReceivedDateTime time.Time `json:"receivedDateTime"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("graphmail: decode list response: %w", err)
	}

	messages := make([]Message, 0, len(parsed.Value))
	for _, v := range parsed.Value {
		messages = append(messages, Message{
			ID:      v.ID,
			From:    v.From.EmailAddress.Address,
			Subject: v.Subject,
			Text:    v.BodyPreview,
			HTML:    v.Body.Content,
			Date:    v.ReceivedDateTime,
		})
	}
	return messages, nil
}

// ListPage fetches one page of message ids, following Graph's
// @odata.nextLink cursor so clear() can page through a folder without
// relying on $skip (which Graph does not support on mail folders). Pass an
// empty pageURL to fetch the first page.
func (c *Client) ListPage(ctx context.Context, accessToken, folder string, pageSize int, pageURL string, proxy proxydial.Spec) (ids []string, nextPageURL string, err error) {
	url := pageURL
	if url == "" {
		url = fmt.Sprintf("%s/me/mailFolders/%s/messages?$top=%d&$select=id", c.baseURL, FolderAlias(folder), pageSize)
	}

	body, status, err := c.do(ctx, fasthttp.MethodGet, url, accessToken, nil, proxy)
	if err != nil {
		return nil, "", err
	}
	if status < 200 || status >= 300 {
		return nil, "", apierr.ErrGraphAPIFailed(fmt.Sprintf("graph list page failed: status=%d body=%s", status, body))
	}

	var parsed struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
		NextLink string `json:"@odata.nextLink"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", fmt.Errorf("graphmail: decode page response: %w", err)
	}

	ids = make([]string, 0, len(parsed.Value))
	for _, v := range parsed.Value {
		ids = append(ids, v.ID)
	}
	return ids, parsed.NextLink, nil
}

// Delete removes one message by id. Per-message failures are the caller's
// concern (C14 swallows them for best-effort bulk clearing).
func (c *Client) Delete(ctx context.Context, accessToken, messageID string, proxy proxydial.Spec) error {
	url := fmt.Sprintf("%s/me/messages/%s", c.baseURL, messageID)
	_, status, err := c.do(ctx, fasthttp.MethodDelete, url, accessToken, nil, proxy)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return apierr.ErrGraphAPIFailed(fmt.Sprintf("graph delete failed: status=%d", status))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url, accessToken string, payload []byte, proxy proxydial.Spec) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	dial, err := proxydial.Resolve(proxy)
	if err != nil {
		return nil, 0, fmt.Errorf("graphmail: resolve proxy: %w", err)
	}
	client := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) {
			return dial(context.Background(), "tcp", addr)
		},
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(requestTimeout)
	}
	if err := client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("graphmail: request failed: %w", err)
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, resp.StatusCode(), nil
}

