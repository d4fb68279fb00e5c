// package session holds per-user conversational context for the lifetime of
// the process. State is in-memory and ephemeral; nothing here survives a
// restart.
package session

import (
	"strings"
	"time"
)

// HistoryLimit bounds conversation history to the most recent entries
// (6 exchanges).
const HistoryLimit = 12

// Mood is one of a fixed closed set of user moods.
type Mood string

const (
	MoodUnset     Mood = ""
	MoodNeutral   Mood = "neutral"
	MoodHappy     Mood = "happy"
	MoodSad       Mood = "sad"
	MoodAnxious   Mood = "anxious"
	MoodExcited   Mood = "excited"
	MoodCalm      Mood = "calm"
	MoodAngry     Mood = "angry"
	MoodEnergetic Mood = "energetic"
	MoodRelaxed   Mood = "relaxed"
	MoodFocused   Mood = "focused"
	MoodNostalgic Mood = "nostalgic"
)

var validMoods = map[Mood]bool{
	MoodNeutral: true, MoodHappy: true, MoodSad: true, MoodAnxious: true,
	MoodExcited: true, MoodCalm: true, MoodAngry: true, MoodEnergetic: true,
	MoodRelaxed: true, MoodFocused: true, MoodNostalgic: true,
}

// moodAliases normalizes common model output onto the closed set.
var moodAliases = map[string]Mood{
	"positive": MoodHappy, "joyful": MoodHappy,
	"negative": MoodSad, "depressed": MoodSad,
	"chill": MoodRelaxed, "peaceful": MoodCalm,
	"stressed": MoodAnxious, "hyper": MoodEnergetic,
}

// ParseMood maps free text onto the closed mood set. Unknown values parse as
// neutral with ok=false.
func ParseMood(raw string) (Mood, bool) {
	cleaned := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
	if m, ok := moodAliases[cleaned]; ok {
		return m, true
	}
	m := Mood(cleaned)
	if validMoods[m] {
		return m, true
	}
	return MoodNeutral, false
}

// Role identifies the author of a conversation history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation history entry.
type Message struct {
	Role    Role
	Content string
}

// AccountLink holds a user's encrypted OAuth token pair. Plaintext tokens
// are never stored. Both ciphertexts are set together or not at all.
type AccountLink struct {
	AccessToken  []byte
	RefreshToken []byte
	ExpiresAt    time.Time
}

// PlayedTrack is a compact listening-history entry cached from the streaming
// service for recommendation seeding.
type PlayedTrack struct {
	ID     string
	Title  string
	Artist string
}

// userSession is the mutable per-user record. All access goes through Store
// accessors so the invariants hold at one place.
type userSession struct {
	mood           Mood
	genres         []string
	history        []Message
	link           *AccountLink
	recentlyPlayed []PlayedTrack
	topTracks      []PlayedTrack
	autoDownload   bool
}
