// package services defines typed clients for the external collaborators:
// the Spotify Web API, the yt-dlp extraction sidecar, the OpenAI-compatible
// completion API and the Genius lyrics provider.
//
// Every client owns its retry and error-mapping policy and reports failures
// as sentinel errors from [shared] rather than raw transport faults.
package services

import (
	"context"
	"io"
)

// VideoResult is one media search hit from the extraction sidecar.
type VideoResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Uploader string `json:"uploader"`
	// Thumbnail is a URL; may be empty.
	Thumbnail string `json:"thumbnail"`
	Duration  int    `json:"duration"`
}

// Extraction describes a completed audio extraction: display metadata plus
// the local artifact the sidecar wrote.
type Extraction struct {
	Title     string
	Uploader  string
	Thumbnail string
	Duration  int
	FilePath  string
	SizeBytes int64
}

// MediaExtractor is the black-box boundary to the media platform:
// URL or search term in, audio artifact and metadata out.
type MediaExtractor interface {
	Extract(ctx context.Context, urlOrID string) (*Extraction, error)
	Search(ctx context.Context, query string, maxResults int) ([]VideoResult, error)
}

// MusicRequest is the structured classification of a chat message.
type MusicRequest struct {
	IsRequest bool
	Query     string
}

// Analysis is the model's read of a user's taste from conversation and
// listening data. Lists are capped at two entries each.
type Analysis struct {
	Genres  []string
	Artists []string
	Mood    string
}

// ChatTurn is one prior exchange entry handed to the completion API.
type ChatTurn struct {
	Role    string
	Content string
}

// ChatContext carries session facts the reply prompt may weave in.
type ChatContext struct {
	Mood          string
	Genres        []string
	RecentArtists []string
	History       []ChatTurn
}

// Assistant is the language-model boundary: free-form replies plus
// structured classification calls with validated fallbacks.
type Assistant interface {
	Reply(ctx context.Context, userText string, chatCtx ChatContext) (string, error)
	ClassifyMusicRequest(ctx context.Context, text string) (MusicRequest, error)
	DetectMood(ctx context.Context, text string) (string, error)
	Analyze(ctx context.Context, conversation string, listening string, mood string, genres []string) (Analysis, error)
}

// Transcriber converts a voice recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// Lyrics is one resolved lyrics lookup.
type Lyrics struct {
	Title  string
	Artist string
	Text   string
}

// LyricsProvider resolves song lyrics, returning shared.ErrLyricsNotFound
// when the provider has no match.
type LyricsProvider interface {
	Search(ctx context.Context, title, artist string) (*Lyrics, error)
}
