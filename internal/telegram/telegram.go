// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram is a small Telegram Bot API client.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"go.astrophena.name/tgdrive/internal/request"
)

const (
	// DefaultBaseURL is the public Bot API server.
	DefaultBaseURL = "https://api.telegram.org"
	// PollTimeout is the long polling timeout used by GetUpdates.
	PollTimeout = 30 * time.Second

	retryLimit = 5 // N attempts to retry rate limited requests
)

// Client calls Bot API methods. Its zero value is not usable: Token is
// required.
type Client struct {
	Token string
	// BaseURL is the Bot API server. Empty means DefaultBaseURL.
	BaseURL    string
	HTTPClient *http.Client
	// Scrubber removes secrets from errors. If nil, the token is scrubbed.
	Scrubber *strings.Replacer
	// Limiter, if set, throttles all requests.
	Limiter *rate.Limiter
	Logger  *slog.Logger

	sleep func(context.Context, time.Duration) bool
}

// Error is a failed Bot API call that returned a 200 OK response with
// "ok": false.
type Error struct {
	Code        int
	Description string
}

func (e *Error) Error() string { return fmt.Sprintf("telegram: %d: %s", e.Code, e.Description) }

type response[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func call[T any](ctx context.Context, c *Client, method string, args any) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		resp, err := request.Make[response[T]](ctx, request.Params{
			Method:     http.MethodPost,
			URL:        c.baseURL() + "/bot" + c.Token + "/" + method,
			Body:       args,
			HTTPClient: c.HTTPClient,
			Scrubber:   c.scrubber(),
		})
		if err == nil {
			if !resp.OK {
				return zero, &Error{Code: resp.ErrorCode, Description: resp.Description}
			}
			return resp.Result, nil
		}

		retryable, wait := isRateLimited(err)
		if !retryable || attempt == retryLimit {
			return zero, err
		}
		c.logger().Warn("rate limited, waiting", "method", method, "wait", wait)
		if !c.sleepFunc()(ctx, wait) {
			return zero, ctx.Err()
		}
	}
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(c.BaseURL, "/")
}

func (c *Client) scrubber() *strings.Replacer {
	if c.Scrubber != nil {
		return c.Scrubber
	}
	return strings.NewReplacer(c.Token, "[EXPUNGED]")
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) sleepFunc() func(context.Context, time.Duration) bool {
	if c.sleep != nil {
		return c.sleep
	}
	return sleep
}

// GetMe returns the bot user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	return call[*User](ctx, c, "getMe", struct{}{})
}

// GetUpdates long polls for new messages starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	return call[[]Update](ctx, c, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	})
}

// GetFile returns a file ready for download.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	return call[*File](ctx, c, "getFile", map[string]string{"file_id": fileID})
}

// ResolveFile returns the download path and size of a file.
func (c *Client) ResolveFile(ctx context.Context, fileID string) (string, int64, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return "", 0, err
	}
	if f.FilePath == "" {
		return "", 0, fmt.Errorf("getFile %s: no file path", fileID)
	}
	return f.FilePath, f.FileSize, nil
}

type textMessage struct {
	ChatID             int64              `json:"chat_id"`
	MessageID          int64              `json:"message_id,omitempty"`
	Text               string             `json:"text"`
	LinkPreviewOptions linkPreviewOptions `json:"link_preview_options"`
	ReplyParameters    *replyParameters   `json:"reply_parameters,omitempty"`
}

type linkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled"`
}

type replyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply"`
}

// SendMessage sends a plain text message to chatID, replying to replyTo if
// it isn't zero. Link previews are disabled.
func (c *Client) SendMessage(ctx context.Context, chatID, replyTo int64, text string) (*Message, error) {
	msg := &textMessage{
		ChatID:             chatID,
		Text:               text,
		LinkPreviewOptions: linkPreviewOptions{IsDisabled: true},
	}
	if replyTo != 0 {
		msg.ReplyParameters = &replyParameters{MessageID: replyTo, AllowSendingWithoutReply: true}
	}
	return call[*Message](ctx, c, "sendMessage", msg)
}

// EditMessageText replaces the text of a message sent by the bot. Edits that
// don't change anything succeed.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := call[json.RawMessage](ctx, c, "editMessageText", &textMessage{
		ChatID:             chatID,
		MessageID:          messageID,
		Text:               text,
		LinkPreviewOptions: linkPreviewOptions{IsDisabled: true},
	})
	if isNotModified(err) {
		return nil
	}
	return err
}

// SetMyCommands sets the command list shown by Telegram clients.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	_, err := call[bool](ctx, c, "setMyCommands", map[string]any{"commands": commands})
	return err
}

func isNotModified(err error) bool {
	var statusErr *request.StatusError
	return errors.As(err, &statusErr) &&
		statusErr.StatusCode == http.StatusBadRequest &&
		strings.Contains(string(statusErr.Body), "message is not modified")
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil || errorResponse.Parameters.RetryAfter == 0 {
		// Proxies in front of a self-hosted server may only set the header.
		return statusErr.RetryAfter > 0, statusErr.RetryAfter
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
