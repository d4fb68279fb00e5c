package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/melodymind/internal/shared"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(shared.TelegramConfig{Token: "123:test-token"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	c.baseURL = server.URL
	return c
}

func ok(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Get Updates", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/bot123:test-token/getUpdates" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}

			var params map[string]any
			json.NewDecoder(r.Body).Decode(&params)
			if params["offset"] != float64(37) {
				t.Errorf("unexpected offset %v", params["offset"])
			}

			ok(w, []map[string]any{
				{
					"update_id": 38,
					"message": map[string]any{
						"message_id": 1,
						"text":       "hello",
						"chat":       map[string]any{"id": 99},
						"from":       map[string]any{"id": 99, "first_name": "Ada"},
					},
				},
			})
		}))

		updates, err := c.GetUpdates(ctx, 37, 30)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(updates) != 1 || updates[0].Message.Text != "hello" || updates[0].Message.From.ID != 99 {
			t.Errorf("unexpected updates %+v", updates)
		}
	})

	t.Run("Send Message With Keyboard", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var params map[string]any
			json.NewDecoder(r.Body).Decode(&params)
			if params["parse_mode"] != "HTML" {
				t.Errorf("expected HTML parse mode, got %v", params["parse_mode"])
			}
			if params["reply_markup"] == nil {
				t.Error("expected keyboard attached")
			}
			ok(w, map[string]any{"message_id": 7, "chat": map[string]any{"id": 99}})
		}))

		keyboard := &InlineKeyboardMarkup{
			InlineKeyboard: [][]InlineKeyboardButton{
				{{Text: "Happy", CallbackData: "mood_happy"}},
			},
		}
		sent, err := c.SendMessage(ctx, 99, "<b>How are you?</b>", keyboard)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sent.MessageID != 7 {
			t.Errorf("unexpected message %+v", sent)
		}
	})

	t.Run("API Error Surfaced", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"ok": false, "error_code": 400, "description": "Bad Request: message is empty",
			})
		}))

		_, err := c.SendMessage(ctx, 99, "", nil)
		if err == nil || !strings.Contains(err.Error(), "message is empty") {
			t.Errorf("expected API description in error, got %v", err)
		}
	})

	t.Run("Flood Limit Maps To Rate Limited", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"ok": false, "error_code": 429, "description": "Too Many Requests: retry after 5",
			})
		}))

		_, err := c.SendMessage(ctx, 99, "hi", nil)
		if !errors.Is(err, shared.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})

	t.Run("Send Audio Multipart", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("expected multipart form: %v", err)
			}
			if got := r.FormValue("title"); got != "Song Title" {
				t.Errorf("unexpected title %q", got)
			}
			if got := r.FormValue("performer"); got != "Artist" {
				t.Errorf("unexpected performer %q", got)
			}
			if _, _, err := r.FormFile("audio"); err != nil {
				t.Errorf("expected audio file part: %v", err)
			}
			ok(w, map[string]any{"message_id": 8})
		}))

		path := filepath.Join(t.TempDir(), "song.mp3")
		if err := os.WriteFile(path, []byte("mp3-bytes"), 0o644); err != nil {
			t.Fatal(err)
		}

		if err := c.SendAudio(ctx, 99, path, "Song Title", "Artist", 180); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Download Voice File", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, "/getFile"):
				ok(w, map[string]any{"file_path": "voice/file_1.oga"})
			case strings.HasSuffix(r.URL.Path, "/file/bot123:test-token/voice/file_1.oga"):
				w.Write([]byte("ogg-audio-bytes"))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}))

		data, err := c.DownloadFile(ctx, "voice-file-id")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "ogg-audio-bytes" {
			t.Errorf("unexpected file contents %q", data)
		}
	})
}
