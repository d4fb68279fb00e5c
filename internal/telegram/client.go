// package telegram is a minimal Bot API client covering what the assistant
// needs: long polling, text and audio delivery, inline keyboards and voice
// file retrieval.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
	"golang.org/x/time/rate"
)

const apiBaseURL = "https://api.telegram.org"

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// Voice is a voice note attachment.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

// Message is an incoming or sent chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
	Voice     *Voice `json:"voice"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Update is one long-polling result.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// InlineKeyboardButton is one button on an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is a grid of inline buttons.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// Client talks to the Bot API for one bot token. Outgoing calls are paced
// with a shared limiter so bursts of sends stay inside the API's limits.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Bot API client.
func NewClient(cfg shared.TelegramConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: telegram token", shared.ErrMissingCredentials)
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    apiBaseURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(25), 5),
	}, nil
}

// doRequest calls one Bot API method with a JSON body and decodes the
// result envelope.
func (c *Client) doRequest(ctx context.Context, method string, params, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload bytes.Buffer
	if params != nil {
		if err := json.NewEncoder(&payload).Encode(params); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp.Body, method, result)
}

func decodeEnvelope(body io.Reader, method string, result any) error {
	var envelope apiResponse
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if !envelope.OK {
		if envelope.ErrorCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", shared.ErrRateLimited, envelope.Description)
		}
		return fmt.Errorf("%w: %s: %s", shared.ErrUnclassified, method, envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetUpdates long-polls for updates past offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	var updates []Update
	err := c.doRequest(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends an HTML-formatted text message, optionally with an
// inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	params := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}

	var sent Message
	if err := c.doRequest(ctx, "sendMessage", params, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// EditMessageText rewrites a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *InlineKeyboardMarkup) error {
	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	return c.doRequest(ctx, "editMessageText", params, nil)
}

// DeleteMessage removes a sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.doRequest(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// AnswerCallbackQuery acknowledges a button press so the client stops its
// spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.doRequest(ctx, "answerCallbackQuery", params, nil)
}

// SendAudio uploads an audio file with its display metadata.
func (c *Client) SendAudio(ctx context.Context, chatID int64, filePath, title, performer string, duration int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to buffer audio file: %w", err)
	}

	fields := map[string]string{
		"chat_id":   fmt.Sprintf("%d", chatID),
		"title":     title,
		"performer": performer,
	}
	if duration > 0 {
		fields["duration"] = fmt.Sprintf("%d", duration)
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to build upload form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendAudio", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp.Body, "sendAudio", nil)
}

// SendChatAction shows a typing or uploading indicator.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.doRequest(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// DownloadFile fetches a file (voice notes) by its file id.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var meta struct {
		FilePath string `json:"file_path"`
	}
	if err := c.doRequest(ctx, "getFile", map[string]any{"file_id": fileID}, &meta); err != nil {
		return nil, err
	}
	if meta.FilePath == "" {
		return nil, fmt.Errorf("%w: getFile returned no path", shared.ErrUnclassified)
	}

	endpoint := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, meta.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: file download status %d", shared.ErrUnavailable, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 20<<20))
}
