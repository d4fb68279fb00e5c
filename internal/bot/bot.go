// package bot wires the chat transport to the assistant's behavior: command
// routing, dialog steps, the message pipeline and download delivery.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/cache"
	"github.com/desertthunder/melodymind/internal/dialog"
	"github.com/desertthunder/melodymind/internal/downloads"
	"github.com/desertthunder/melodymind/internal/intent"
	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
	"github.com/desertthunder/melodymind/internal/shared"
	"github.com/desertthunder/melodymind/internal/telegram"
	"github.com/desertthunder/melodymind/internal/tokens"
)

// API is the chat transport surface the bot drives. Satisfied by
// [telegram.Client]; faked in tests.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	SendAudio(ctx context.Context, chatID int64, filePath, title, performer string, duration int) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Spotify is the subset of the Spotify client the bot calls directly.
// Token-endpoint operations go through the token manager instead.
type Spotify interface {
	AuthURL(state string) string
	SearchArtistID(ctx context.Context, name string) (string, error)
	Recommendations(ctx context.Context, seeds services.Seeds, limit int) ([]services.SpotifyTrack, error)
	Profile(ctx context.Context, bearer string) (*services.SpotifyUser, error)
	CreatePlaylist(ctx context.Context, bearer, spotifyUserID, name, description string) (*services.SpotifyPlaylist, error)
	RecentlyPlayed(ctx context.Context, bearer string, limit int) ([]services.SpotifyTrack, error)
	TopTracks(ctx context.Context, bearer string, limit int) ([]services.SpotifyTrack, error)
}

// Assistant extends the model boundary with voice transcription.
type Assistant interface {
	services.Assistant
	services.Transcriber
}

// Bot is the long-polling update processor.
type Bot struct {
	api       API
	store     *session.Store
	tokens    *tokens.Manager
	spotify   Spotify
	extractor services.MediaExtractor
	assistant Assistant
	lyrics    services.LyricsProvider
	dialogs   *dialog.Registry
	router    *intent.Router
	cache     *cache.Cache
	logger    *log.Logger

	coordinator *downloads.Coordinator
}

// Deps collects everything the bot needs.
type Deps struct {
	API       API
	Store     *session.Store
	Tokens    *tokens.Manager
	Spotify   Spotify
	Extractor services.MediaExtractor
	Assistant Assistant
	Lyrics    services.LyricsProvider
	Cache     *cache.Cache
	Downloads shared.DownloadsConfig
	Logger    *log.Logger
}

// New creates a bot and its download coordinator. The bot delivers finished
// artifacts itself, so it is the coordinator's deliverer.
func New(deps Deps) (*Bot, error) {
	b := &Bot{
		api:       deps.API,
		store:     deps.Store,
		tokens:    deps.Tokens,
		spotify:   deps.Spotify,
		extractor: deps.Extractor,
		assistant: deps.Assistant,
		lyrics:    deps.Lyrics,
		dialogs:   dialog.NewRegistry(),
		router:    intent.NewRouter(deps.Assistant, deps.Store, deps.Logger),
		cache:     deps.Cache,
		logger:    deps.Logger,
	}

	coordinator, err := downloads.NewCoordinator(deps.Downloads, deps.Extractor, b, deps.Logger)
	if err != nil {
		return nil, err
	}
	b.coordinator = coordinator
	return b, nil
}

// Run long-polls for updates until ctx is cancelled, then sweeps leftover
// artifacts.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot started")
	defer b.coordinator.Sweep()

	var offset int64
	for {
		if ctx.Err() != nil {
			b.logger.Info("bot stopping")
			return ctx.Err()
		}

		updates, err := b.api.GetUpdates(ctx, offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Warn("polling failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			go b.safeHandle(ctx, update)
		}
	}
}

// safeHandle isolates one user's update; a panic there must not take the
// polling loop down.
func (b *Bot) safeHandle(ctx context.Context, update telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", "update_id", update.UpdateID, "panic", r)
		}
	}()
	b.handleUpdate(ctx, update)
}

func (b *Bot) handleUpdate(ctx context.Context, update telegram.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.From != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	text := msg.Text
	if msg.Voice != nil {
		transcribed, err := b.transcribeVoice(ctx, msg.Voice)
		if err != nil {
			b.logger.Warn("voice transcription failed", "user_id", userID, "err", err)
			b.reply(ctx, chatID, "I couldn't make out that voice note, sorry. Mind typing it?")
			return
		}
		text = transcribed
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, userID, chatID, text)
		return
	}
	b.handleText(ctx, userID, chatID, text)
}

// handleText runs the message pipeline: an active linking dialog consumes
// the text first, then the intent router decides.
func (b *Bot) handleText(ctx context.Context, userID, chatID int64, text string) {
	if flow, ok := b.dialogs.Get(userID, dialog.KindAccountLinking); ok && flow.Step == dialog.StepAwaitingCode {
		b.handleAuthCode(ctx, userID, chatID, text)
		return
	}

	classified := b.router.Classify(ctx, userID, text)
	b.logger.Debug("message classified", "user_id", userID, "intent", classified.Kind)

	switch classified.Kind {
	case intent.DirectMediaLink:
		b.startDownload(ctx, userID, chatID, classified.VideoID)
	case intent.LyricsLookup:
		b.sendLyrics(ctx, chatID, classified.Query)
	case intent.MusicRequest:
		b.searchAndOffer(ctx, userID, chatID, classified.Query)
	default:
		b.chat(ctx, userID, chatID, text)
	}
}

// chat produces a conversational reply and records the exchange.
func (b *Bot) chat(ctx context.Context, userID, chatID int64, text string) {
	b.api.SendChatAction(ctx, chatID, "typing")

	history := b.store.History(userID)
	turns := make([]services.ChatTurn, len(history))
	for i, m := range history {
		turns[i] = services.ChatTurn{Role: string(m.Role), Content: m.Content}
	}

	recent, _ := b.store.Listening(userID)
	var artists []string
	for _, track := range recent {
		artists = append(artists, track.Artist)
		if len(artists) == 3 {
			break
		}
	}

	answer, err := b.assistant.Reply(ctx, text, services.ChatContext{
		Mood:          string(b.store.Mood(userID)),
		Genres:        b.store.Genres(userID),
		RecentArtists: artists,
		History:       turns,
	})
	if err != nil {
		b.logger.Warn("reply failed", "user_id", userID, "err", err)
		b.reply(ctx, chatID, "My head's a bit fuzzy right now. Try me again in a moment?")
		return
	}

	b.store.AppendExchange(userID, text, answer)
	b.reply(ctx, chatID, esc(answer))
}

func (b *Bot) transcribeVoice(ctx context.Context, voice *telegram.Voice) (string, error) {
	data, err := b.api.DownloadFile(ctx, voice.FileID)
	if err != nil {
		return "", err
	}
	return b.assistant.Transcribe(ctx, "voice.oga", strings.NewReader(string(data)))
}

// reply sends a message, logging rather than propagating send failures.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, chatID, text, nil); err != nil {
		b.logger.Warn("send failed", "chat_id", chatID, "err", err)
	}
}

// Deliver implements [downloads.Deliverer]: the finished artifact goes out
// as an audio message.
func (b *Bot) Deliver(ctx context.Context, userID int64, artifact downloads.Artifact) error {
	b.api.SendChatAction(ctx, userID, "upload_voice")
	return b.api.SendAudio(ctx, userID, artifact.Path, artifact.Title, artifact.Performer, artifact.Duration)
}

// startDownload runs one download end to end, narrating progress in chat.
func (b *Bot) startDownload(ctx context.Context, userID, chatID int64, source string) {
	status, _ := b.api.SendMessage(ctx, chatID, "⏳ On it, fetching your track...", nil)

	job, err := b.coordinator.Start(ctx, userID, source)
	if err != nil {
		if errors.Is(err, shared.ErrDownloadInProgress) {
			b.reply(ctx, chatID, "One at a time! Your previous download is still running.")
		} else {
			b.reply(ctx, chatID, "I couldn't start that download.")
		}
		b.deleteStatus(ctx, chatID, status)
		return
	}

	err = job.Wait(ctx)
	b.deleteStatus(ctx, chatID, status)
	if err != nil {
		b.reply(ctx, chatID, downloadFailureText(err))
		return
	}
	b.reply(ctx, chatID, "Enjoy! 🎧")
}

func (b *Bot) deleteStatus(ctx context.Context, chatID int64, status *telegram.Message) {
	if status != nil {
		b.api.DeleteMessage(ctx, chatID, status.MessageID)
	}
}

// downloadFailureText turns pipeline errors into user-facing explanations.
func downloadFailureText(err error) string {
	switch {
	case errors.Is(err, shared.ErrUnsupportedURL):
		return "That link isn't from a platform I can download from."
	case errors.Is(err, shared.ErrVideoPrivate):
		return "That video is private, so I can't get to it."
	case errors.Is(err, shared.ErrVideoPremiere):
		return "That's a premiere that hasn't aired yet. Try again after it's out."
	case errors.Is(err, shared.ErrArtifactTooBig):
		return "That track is too large for me to send here. Try a shorter version."
	case errors.Is(err, shared.ErrRateLimited):
		return "The platform is telling me to slow down. Give it a minute and try again."
	case errors.Is(err, shared.ErrUnavailable), errors.Is(err, shared.ErrNotFound):
		return "That track isn't available anymore."
	default:
		return "Something went wrong with that download. Try again in a bit?"
	}
}

// searchAndOffer searches the platform and either auto-downloads the top
// hit or presents the results for the user to pick from.
func (b *Bot) searchAndOffer(ctx context.Context, userID, chatID int64, query string) {
	b.api.SendChatAction(ctx, chatID, "typing")

	results, err := b.search(ctx, query)
	if err != nil {
		b.logger.Warn("search failed", "user_id", userID, "query", query, "err", err)
		b.reply(ctx, chatID, "The search didn't go through. Try again in a moment?")
		return
	}
	if len(results) == 0 {
		b.reply(ctx, chatID, fmt.Sprintf("I couldn't find anything for <b>%s</b>.", esc(query)))
		return
	}

	if b.store.AutoDownload(userID) {
		b.startDownload(ctx, userID, chatID, results[0].ID)
		return
	}

	if _, err := b.api.SendMessage(ctx, chatID, searchResultsText(query, results), searchResultsKeyboard(results)); err != nil {
		b.logger.Warn("send failed", "chat_id", chatID, "err", err)
	}
}

// search consults the TTL cache before the sidecar.
func (b *Bot) search(ctx context.Context, query string) ([]services.VideoResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(query))

	var cached []services.VideoResult
	if b.cache != nil && b.cache.Get(normalized, &cached) == nil {
		return cached, nil
	}

	results, err := b.extractor.Search(ctx, query, 5)
	if err != nil {
		return nil, err
	}
	if b.cache != nil && len(results) > 0 {
		if err := b.cache.Put(normalized, results); err != nil {
			b.logger.Warn("failed to cache search results", "err", err)
		}
	}
	return results, nil
}

// sendLyrics resolves and sends lyrics for a free-text song query.
func (b *Bot) sendLyrics(ctx context.Context, chatID int64, query string) {
	b.api.SendChatAction(ctx, chatID, "typing")

	title, artist := splitSongQuery(query)
	lyrics, err := b.lyrics.Search(ctx, title, artist)
	if err != nil {
		if errors.Is(err, shared.ErrLyricsNotFound) {
			b.reply(ctx, chatID, fmt.Sprintf("No lyrics found for <b>%s</b>, sorry.", esc(query)))
		} else {
			b.reply(ctx, chatID, "The lyrics service isn't answering right now.")
		}
		return
	}
	b.reply(ctx, chatID, lyricsText(lyrics))
}

// splitSongQuery reads "title by artist" and "artist - title" forms.
func splitSongQuery(query string) (title, artist string) {
	if idx := strings.LastIndex(strings.ToLower(query), " by "); idx > 0 {
		return strings.TrimSpace(query[:idx]), strings.TrimSpace(query[idx+4:])
	}
	if parts := strings.SplitN(query, " - ", 2); len(parts) == 2 {
		return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[0])
	}
	return strings.TrimSpace(query), ""
}
