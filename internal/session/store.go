package session

import (
	"sync"

	"github.com/desertthunder/melodymind/internal/shared"
)

// Store is the process-wide session registry keyed by user identity.
// Sessions are created lazily on first access and live until process exit.
//
// History appends may race with the main handler path (background mood
// estimation runs fire-and-forget), so every accessor takes the store lock;
// the mood field is last-write-wins.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*userSession
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*userSession)}
}

func (s *Store) get(userID int64) *userSession {
	us, ok := s.sessions[userID]
	if !ok {
		us = &userSession{}
		s.sessions[userID] = us
	}
	return us
}

// Mood returns the user's current mood, MoodUnset when never set.
func (s *Store) Mood(userID int64) Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID).mood
}

// SetMood records the user's mood. Last write wins.
func (s *Store) SetMood(userID int64, m Mood) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).mood = m
}

// Genres returns a copy of the user's genre preferences.
func (s *Store) Genres(userID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	genres := s.get(userID).genres
	out := make([]string, len(genres))
	copy(out, genres)
	return out
}

// SetGenres replaces the preference set with an explicit user selection.
func (s *Store) SetGenres(userID int64, genres []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cleaned := make([]string, 0, len(genres))
	seen := map[string]bool{}
	for _, g := range genres {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		cleaned = append(cleaned, g)
	}
	s.get(userID).genres = cleaned
}

// MergeInferredGenres unions AI-inferred genres into the preference set,
// capped at two inferred additions. Explicit selections are never removed.
func (s *Store) MergeInferredGenres(userID int64, inferred []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	us := s.get(userID)
	seen := map[string]bool{}
	for _, g := range us.genres {
		seen[g] = true
	}

	added := 0
	for _, g := range inferred {
		if g == "" || seen[g] || added >= 2 {
			continue
		}
		us.genres = append(us.genres, g)
		seen[g] = true
		added++
	}

	out := make([]string, len(us.genres))
	copy(out, us.genres)
	return out
}

// AppendExchange appends a user/assistant message pair to the conversation
// history, evicting the oldest entries beyond HistoryLimit.
func (s *Store) AppendExchange(userID int64, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	us := s.get(userID)
	us.history = append(us.history,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: assistantText},
	)
	if over := len(us.history) - HistoryLimit; over > 0 {
		us.history = append([]Message(nil), us.history[over:]...)
	}
}

// History returns a copy of the user's conversation history, oldest first.
func (s *Store) History(userID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.get(userID).history
	out := make([]Message, len(hist))
	copy(out, hist)
	return out
}

// ClearHistory drops the conversation history, reporting whether there was
// anything to clear. Mood, preferences and the account link are kept.
func (s *Store) ClearHistory(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.get(userID)
	had := len(us.history) > 0
	us.history = nil
	return had
}

// Link returns a copy of the user's account link when present.
func (s *Store) Link(userID int64) (AccountLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link := s.get(userID).link
	if link == nil {
		return AccountLink{}, false
	}
	return *link, true
}

// SetLink replaces the account link atomically. A link missing either
// ciphertext is rejected; a token pair is rotated together or not at all.
func (s *Store) SetLink(userID int64, link AccountLink) error {
	if len(link.AccessToken) == 0 || len(link.RefreshToken) == 0 {
		return shared.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).link = &link
	return nil
}

// ClearLink removes the account link, forcing the user back through the
// linking flow.
func (s *Store) ClearLink(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(userID).link = nil
}

// AutoDownload reports whether search hits download without confirmation.
func (s *Store) AutoDownload(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID).autoDownload
}

// ToggleAutoDownload flips the auto-download preference and returns the new
// value.
func (s *Store) ToggleAutoDownload(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.get(userID)
	us.autoDownload = !us.autoDownload
	return us.autoDownload
}

// SetListening caches the user's listening snapshots. Nil slices leave the
// corresponding snapshot untouched.
func (s *Store) SetListening(userID int64, recentlyPlayed, topTracks []PlayedTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.get(userID)
	if recentlyPlayed != nil {
		us.recentlyPlayed = recentlyPlayed
	}
	if topTracks != nil {
		us.topTracks = topTracks
	}
}

// Listening returns copies of the cached listening snapshots.
func (s *Store) Listening(userID int64) (recentlyPlayed, topTracks []PlayedTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us := s.get(userID)
	recentlyPlayed = append([]PlayedTrack(nil), us.recentlyPlayed...)
	topTracks = append([]PlayedTrack(nil), us.topTracks...)
	return recentlyPlayed, topTracks
}
