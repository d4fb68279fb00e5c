// package intent turns free-form chat text into a routing decision. The
// rules run in a fixed order so cheap syntactic checks short-circuit before
// any model call is made.
package intent

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
)

// Kind is the routing decision for a message.
type Kind int

const (
	// GenericChat is the fallback: the message goes to the conversational
	// reply path.
	GenericChat Kind = iota
	// DirectMediaLink is a pasted platform URL; no model call happens.
	DirectMediaLink
	// LyricsLookup is an explicit lyrics request recognized by prefix.
	LyricsLookup
	// MusicRequest is a model-classified request for a specific piece of
	// music.
	MusicRequest
)

func (k Kind) String() string {
	switch k {
	case DirectMediaLink:
		return "direct_media_link"
	case LyricsLookup:
		return "lyrics_lookup"
	case MusicRequest:
		return "music_request"
	default:
		return "generic_chat"
	}
}

// Intent is one classified message.
type Intent struct {
	Kind    Kind
	VideoID string // set for DirectMediaLink
	Query   string // set for LyricsLookup and MusicRequest
}

var youtubeURLRe = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com/(?:watch\?v=|embed/|v/|shorts/)|youtu\.be/)([a-zA-Z0-9_-]{11})`)

// lyricsPrefixes are checked longest-first so "get lyrics for" never
// matches as "lyrics for" with a dangling verb.
var lyricsPrefixes = []string{
	"what are the lyrics to",
	"find lyrics for",
	"get lyrics for",
	"song lyrics for",
	"lyrics for",
	"lyrics to",
}

// Router classifies messages and runs the background mood estimate.
type Router struct {
	assistant services.Assistant
	store     *session.Store
	logger    *log.Logger

	// moodTimeout bounds the fire-and-forget estimate so it cannot pile up.
	moodTimeout time.Duration
}

// NewRouter creates an intent router.
func NewRouter(assistant services.Assistant, store *session.Store, logger *log.Logger) *Router {
	return &Router{
		assistant:   assistant,
		store:       store,
		logger:      logger,
		moodTimeout: 15 * time.Second,
	}
}

// Classify routes one message. Substantial messages also kick off a
// background mood estimate; its outcome never affects the returned intent.
func (r *Router) Classify(ctx context.Context, userID int64, text string) Intent {
	trimmed := strings.TrimSpace(text)

	if m := youtubeURLRe.FindStringSubmatch(trimmed); m != nil {
		return Intent{Kind: DirectMediaLink, VideoID: m[1]}
	}

	r.maybeEstimateMood(userID, trimmed)

	if query, ok := lyricsQuery(trimmed); ok {
		return Intent{Kind: LyricsLookup, Query: query}
	}

	request, err := r.assistant.ClassifyMusicRequest(ctx, trimmed)
	if err != nil {
		r.logger.Warn("music request classification failed", "err", err)
		return Intent{Kind: GenericChat}
	}
	if request.IsRequest {
		return Intent{Kind: MusicRequest, Query: request.Query}
	}

	return Intent{Kind: GenericChat}
}

// lyricsQuery matches the explicit lyrics prefixes, returning the song part.
func lyricsQuery(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, prefix := range lyricsPrefixes {
		if !strings.HasPrefix(lowered, prefix) {
			continue
		}
		query := strings.TrimSpace(text[len(prefix):])
		query = strings.Trim(query, `"'?.!`)
		if query != "" {
			return query, true
		}
	}
	return "", false
}

// maybeEstimateMood re-estimates the user's mood from substantial messages.
// Runs detached; failures and neutral reads are silently dropped.
func (r *Router) maybeEstimateMood(userID int64, text string) {
	if len(strings.Fields(text)) <= 3 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.moodTimeout)
		defer cancel()

		raw, err := r.assistant.DetectMood(ctx, text)
		if err != nil {
			return
		}
		mood, ok := session.ParseMood(raw)
		if !ok || mood == session.MoodNeutral {
			return
		}
		if r.store.Mood(userID) == mood {
			return
		}
		r.store.SetMood(userID, mood)
		r.logger.Debug("mood re-estimated", "user_id", userID, "mood", mood)
	}()
}
