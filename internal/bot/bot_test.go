package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/dialog"
	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
	"github.com/desertthunder/melodymind/internal/shared"
	"github.com/desertthunder/melodymind/internal/telegram"
	"github.com/desertthunder/melodymind/internal/tokens"
	"github.com/desertthunder/melodymind/internal/vault"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *telegram.InlineKeyboardMarkup
}

type fakeAPI struct {
	mu      sync.Mutex
	sent    []sentMessage
	edits   []sentMessage
	deleted []int64
	audio   []string
	acks    []string
	nextID  int64
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error) {
	return nil, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID, text, keyboard})
	return &telegram.Message{MessageID: f.nextID, Chat: telegram.Chat{ID: chatID}}, nil
}

func (f *fakeAPI) EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{chatID, text, keyboard})
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, callbackID)
	return nil
}

func (f *fakeAPI) SendAudio(ctx context.Context, chatID int64, filePath, title, performer string, duration int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, title)
	return nil
}

func (f *fakeAPI) SendChatAction(ctx context.Context, chatID int64, action string) error { return nil }

func (f *fakeAPI) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return []byte("voice-bytes"), nil
}

func (f *fakeAPI) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

type fakeSpotify struct {
	tracks []services.SpotifyTrack
	err    error
}

func (f *fakeSpotify) AuthURL(state string) string {
	return "https://accounts.spotify.com/authorize?state=" + state
}

func (f *fakeSpotify) SearchArtistID(ctx context.Context, name string) (string, error) {
	return "artist-" + name, nil
}

func (f *fakeSpotify) Recommendations(ctx context.Context, seeds services.Seeds, limit int) ([]services.SpotifyTrack, error) {
	return f.tracks, f.err
}

func (f *fakeSpotify) Profile(ctx context.Context, bearer string) (*services.SpotifyUser, error) {
	return &services.SpotifyUser{ID: "spotify-user", DisplayName: "Ada"}, nil
}

func (f *fakeSpotify) CreatePlaylist(ctx context.Context, bearer, userID, name, description string) (*services.SpotifyPlaylist, error) {
	p := &services.SpotifyPlaylist{ID: "pl1", Name: name}
	p.ExternalURLs.Spotify = "https://open.spotify.com/playlist/pl1"
	return p, nil
}

func (f *fakeSpotify) RecentlyPlayed(ctx context.Context, bearer string, limit int) ([]services.SpotifyTrack, error) {
	return nil, nil
}

func (f *fakeSpotify) TopTracks(ctx context.Context, bearer string, limit int) ([]services.SpotifyTrack, error) {
	return nil, nil
}

type fakeProvider struct{ exchangeErr error }

func (f *fakeProvider) Exchange(ctx context.Context, code string) (*services.TokenPair, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &services.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	return f.Exchange(ctx, "refresh")
}

type fakeAssistant struct {
	reply   string
	request services.MusicRequest
}

func (f *fakeAssistant) Reply(ctx context.Context, text string, chatCtx services.ChatContext) (string, error) {
	return f.reply, nil
}

func (f *fakeAssistant) ClassifyMusicRequest(ctx context.Context, text string) (services.MusicRequest, error) {
	return f.request, nil
}

func (f *fakeAssistant) DetectMood(ctx context.Context, text string) (string, error) {
	return "neutral", nil
}

func (f *fakeAssistant) Analyze(ctx context.Context, conversation, listening, mood string, genres []string) (services.Analysis, error) {
	return services.Analysis{}, nil
}

func (f *fakeAssistant) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	return "transcribed text from voice", nil
}

type fakeExtractor struct {
	dir     string
	results []services.VideoResult
}

func (f *fakeExtractor) Extract(ctx context.Context, urlOrID string) (*services.Extraction, error) {
	path := filepath.Join(f.dir, "out.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return nil, err
	}
	return &services.Extraction{Title: "Fetched Song", Uploader: "Some Artist", Duration: 200, FilePath: path, SizeBytes: 5}, nil
}

func (f *fakeExtractor) Search(ctx context.Context, query string, maxResults int) ([]services.VideoResult, error) {
	return f.results, nil
}

type fakeLyrics struct{ err error }

func (f *fakeLyrics) Search(ctx context.Context, title, artist string) (*services.Lyrics, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.Lyrics{Title: title, Artist: "Artist", Text: "la la la"}, nil
}

type fixture struct {
	bot       *Bot
	api       *fakeAPI
	store     *session.Store
	spotify   *fakeSpotify
	assistant *fakeAssistant
	extractor *fakeExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := log.New(io.Discard)
	v, err := vault.New("", logger)
	if err != nil {
		t.Fatal(err)
	}

	api := &fakeAPI{}
	store := session.NewStore()
	spotify := &fakeSpotify{}
	assistant := &fakeAssistant{reply: "sure thing!"}
	extractor := &fakeExtractor{dir: t.TempDir()}

	b, err := New(Deps{
		API:       api,
		Store:     store,
		Tokens:    tokens.NewManager(store, v, &fakeProvider{}, logger),
		Spotify:   spotify,
		Extractor: extractor,
		Assistant: assistant,
		Lyrics:    &fakeLyrics{},
		Downloads: shared.DownloadsConfig{Dir: t.TempDir(), MaxSizeBytes: 1 << 20, Workers: 2},
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to create bot: %v", err)
	}

	return &fixture{bot: b, api: api, store: store, spotify: spotify, assistant: assistant, extractor: extractor}
}

func message(userID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 1,
		From:      &telegram.User{ID: userID, FirstName: "Ada"},
		Chat:      telegram.Chat{ID: userID},
		Text:      text,
	}
}

func callback(userID int64, data string) *telegram.CallbackQuery {
	return &telegram.CallbackQuery{
		ID:      "cb1",
		From:    telegram.User{ID: userID},
		Message: &telegram.Message{MessageID: 5, Chat: telegram.Chat{ID: userID}},
		Data:    data,
	}
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("Start And Help", func(t *testing.T) {
		f := newFixture(t)

		f.bot.handleMessage(ctx, message(1, "/start"))
		if !strings.Contains(f.api.lastText(), "MelodyMind") {
			t.Errorf("unexpected greeting %q", f.api.lastText())
		}

		f.bot.handleMessage(ctx, message(1, "/help"))
		if !strings.Contains(f.api.lastText(), "/recommend") {
			t.Errorf("help must list commands, got %q", f.api.lastText())
		}
	})

	t.Run("Download Requires Argument", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/download"))
		if !strings.Contains(f.api.lastText(), "/download") {
			t.Errorf("expected usage hint, got %q", f.api.lastText())
		}
		if len(f.api.audio) != 0 {
			t.Error("no download should run without an argument")
		}
	})

	t.Run("Download Delivers Audio", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/download https://youtu.be/dQw4w9WgXcQ"))

		if len(f.api.audio) != 1 || f.api.audio[0] != "Fetched Song" {
			t.Fatalf("expected one delivered audio, got %v", f.api.audio)
		}
		if !strings.Contains(f.api.lastText(), "Enjoy") {
			t.Errorf("expected completion message, got %q", f.api.lastText())
		}
		if len(f.api.deleted) == 0 {
			t.Error("status message must be cleaned up")
		}
	})

	t.Run("Pasted URL Downloads Directly", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
		if len(f.api.audio) != 1 {
			t.Errorf("expected direct download, got %v", f.api.audio)
		}
	})

	t.Run("Clear History", func(t *testing.T) {
		f := newFixture(t)
		f.store.AppendExchange(1, "hi", "hello")

		f.bot.handleMessage(ctx, message(1, "/clear"))
		if len(f.store.History(1)) != 0 {
			t.Error("expected history cleared")
		}

		f.bot.handleMessage(ctx, message(1, "/clear"))
		if !strings.Contains(f.api.lastText(), "Nothing") {
			t.Errorf("second clear should be a no-op, got %q", f.api.lastText())
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/frobnicate"))
		if !strings.Contains(f.api.lastText(), "/help") {
			t.Errorf("expected help hint, got %q", f.api.lastText())
		}
	})
}

func TestSearchFlow(t *testing.T) {
	ctx := context.Background()

	results := []services.VideoResult{
		{ID: "vid00000001", Title: "Top Hit", Uploader: "Chan", Duration: 180},
		{ID: "vid00000002", Title: "Second Hit", Uploader: "Chan", Duration: 200},
	}

	t.Run("Search Offers Options", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.results = results

		f.bot.handleMessage(ctx, message(1, "/search daft punk"))

		last := f.api.sent[len(f.api.sent)-1]
		if !strings.Contains(last.text, "Top Hit") || last.keyboard == nil {
			t.Fatalf("expected results with keyboard, got %+v", last)
		}
		if len(f.api.audio) != 0 {
			t.Error("no download without a pick")
		}

		// Picking a result downloads it.
		f.bot.handleCallback(ctx, callback(1, "download_vid00000001"))
		if len(f.api.audio) != 1 {
			t.Errorf("expected download after pick, got %v", f.api.audio)
		}
	})

	t.Run("Auto Download Fetches Top Hit", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.results = results

		f.bot.handleMessage(ctx, message(1, "/autodownload"))
		f.bot.handleMessage(ctx, message(1, "/search daft punk"))

		if len(f.api.audio) != 1 {
			t.Errorf("expected auto-downloaded top hit, got %v", f.api.audio)
		}
	})

	t.Run("Model Classified Request Searches", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.results = results
		f.assistant.request = services.MusicRequest{IsRequest: true, Query: "daft punk around the world"}

		f.bot.handleMessage(ctx, message(1, "can you put on that daft punk song"))
		last := f.api.sent[len(f.api.sent)-1]
		if !strings.Contains(last.text, "daft punk around the world") {
			t.Errorf("expected search on classified query, got %q", last.text)
		}
	})

	t.Run("No Results", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/search nothing here"))
		if !strings.Contains(f.api.lastText(), "couldn't find") {
			t.Errorf("unexpected reply %q", f.api.lastText())
		}
	})
}

func TestMoodDialog(t *testing.T) {
	ctx := context.Background()

	t.Run("Full Walkthrough", func(t *testing.T) {
		f := newFixture(t)

		f.bot.handleMessage(ctx, message(1, "/mood"))
		last := f.api.sent[len(f.api.sent)-1]
		if last.keyboard == nil {
			t.Fatal("expected mood keyboard")
		}

		f.bot.handleCallback(ctx, callback(1, "mood_happy"))
		if f.store.Mood(1) != session.MoodHappy {
			t.Errorf("expected mood stored, got %q", f.store.Mood(1))
		}
		if len(f.api.edits) == 0 || f.api.edits[0].keyboard == nil {
			t.Fatal("expected message edited to genre keyboard")
		}

		f.bot.handleCallback(ctx, callback(1, "pref_jazz"))
		f.bot.handleCallback(ctx, callback(1, "pref_rock"))
		f.bot.handleCallback(ctx, callback(1, "pref_done"))

		genres := f.store.Genres(1)
		if len(genres) != 2 {
			t.Errorf("expected two genres, got %v", genres)
		}
		if _, active := f.bot.dialogs.Get(1, dialog.KindMoodCapture); active {
			t.Error("dialog must be closed after done")
		}
	})

	t.Run("Genre Press Toggles", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/mood"))
		f.bot.handleCallback(ctx, callback(1, "mood_calm"))

		f.bot.handleCallback(ctx, callback(1, "pref_jazz"))
		f.bot.handleCallback(ctx, callback(1, "pref_jazz"))
		if got := f.store.Genres(1); len(got) != 0 {
			t.Errorf("expected second press to deselect, got %v", got)
		}
	})
}

func TestLinkingDialog(t *testing.T) {
	ctx := context.Background()
	longCode := strings.Repeat("A", 80)

	t.Run("Short Code Rejected Without Transition", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/link_spotify"))
		if !strings.Contains(f.api.lastText(), "authorization page") {
			t.Fatalf("expected auth instructions, got %q", f.api.lastText())
		}

		f.bot.handleMessage(ctx, message(1, "AQBx"))
		if !strings.Contains(f.api.lastText(), "doesn't look like") {
			t.Errorf("expected rejection, got %q", f.api.lastText())
		}

		flow, ok := f.bot.dialogs.Get(1, dialog.KindAccountLinking)
		if !ok || flow.Step != dialog.StepAwaitingCode {
			t.Errorf("rejection must not move the flow, got %+v ok=%v", flow, ok)
		}
	})

	t.Run("Valid Code Links Account", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/link_spotify"))
		f.bot.handleMessage(ctx, message(1, longCode))

		if !f.bot.tokens.Linked(1) {
			t.Error("expected account linked")
		}
		if _, ok := f.bot.dialogs.Get(1, dialog.KindAccountLinking); ok {
			t.Error("dialog must be closed after success")
		}
	})

	t.Run("Spotify Code Command Starts Flow", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/spotify_code "+longCode))
		if !f.bot.tokens.Linked(1) {
			t.Error("expected account linked without a prior /link_spotify")
		}
	})

	t.Run("Failed Exchange Keeps Flow", func(t *testing.T) {
		f := newFixture(t)
		manager := tokens.NewManager(f.store, mustVault(t), &fakeProvider{
			exchangeErr: fmt.Errorf("%w: invalid code", shared.ErrAuthExpiredOrRevoked),
		}, log.New(io.Discard))
		f.bot.tokens = manager

		f.bot.handleMessage(ctx, message(1, "/link_spotify"))
		f.bot.handleMessage(ctx, message(1, longCode))

		if manager.Linked(1) {
			t.Error("failed exchange must not link")
		}
		flow, ok := f.bot.dialogs.Get(1, dialog.KindAccountLinking)
		if !ok || flow.Step != dialog.StepAwaitingCode {
			t.Errorf("flow must stay in awaiting_code, got %+v ok=%v", flow, ok)
		}
	})

	t.Run("Cancel Ends Flow", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "/link_spotify"))
		f.bot.handleMessage(ctx, message(1, "/cancel"))

		if _, ok := f.bot.dialogs.Get(1, dialog.KindAccountLinking); ok {
			t.Error("expected flow cancelled")
		}
	})
}

func mustVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("", log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestChatPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("Generic Chat Replies And Records", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "what's your favorite album?"))

		if !strings.Contains(f.api.lastText(), "sure thing!") {
			t.Errorf("expected assistant reply, got %q", f.api.lastText())
		}
		history := f.store.History(1)
		if len(history) != 2 || history[0].Role != session.RoleUser {
			t.Errorf("expected exchange recorded, got %+v", history)
		}
	})

	t.Run("Voice Note Transcribed Into Pipeline", func(t *testing.T) {
		f := newFixture(t)
		msg := message(1, "")
		msg.Voice = &telegram.Voice{FileID: "voice1", Duration: 3}

		f.bot.handleMessage(ctx, msg)
		history := f.store.History(1)
		if len(history) != 2 || history[0].Content != "transcribed text from voice" {
			t.Errorf("expected transcript in pipeline, got %+v", history)
		}
	})

	t.Run("Lyrics Prefix Routes To Provider", func(t *testing.T) {
		f := newFixture(t)
		f.bot.handleMessage(ctx, message(1, "lyrics for Imagine by John Lennon"))
		if !strings.Contains(f.api.lastText(), "la la la") {
			t.Errorf("expected lyrics sent, got %q", f.api.lastText())
		}
	})
}

func TestRecommend(t *testing.T) {
	ctx := context.Background()

	t.Run("Spotify Tracks Listed", func(t *testing.T) {
		f := newFixture(t)
		f.spotify.tracks = []services.SpotifyTrack{
			{ID: "t1", Name: "Song One", Artists: []services.SpotifyArtist{{Name: "Artist A"}}},
			{ID: "t2", Name: "Song Two", Artists: []services.SpotifyArtist{{Name: "Artist B"}}},
		}

		f.bot.handleMessage(ctx, message(1, "/recommend"))
		if !strings.Contains(f.api.lastText(), "Song One") {
			t.Errorf("expected track list, got %q", f.api.lastText())
		}
	})

	t.Run("Falls Back To Search Then Picks", func(t *testing.T) {
		f := newFixture(t)
		f.spotify.err = fmt.Errorf("%w: down", shared.ErrUnavailable)
		f.store.SetMood(1, session.MoodSad)

		f.bot.handleMessage(ctx, message(1, "/recommend"))
		if !strings.Contains(f.api.lastText(), "never miss") {
			t.Errorf("expected hardcoded fallback, got %q", f.api.lastText())
		}
		if !strings.Contains(f.api.lastText(), "Adele") {
			t.Errorf("expected sad picks, got %q", f.api.lastText())
		}
	})
}
