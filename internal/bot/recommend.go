package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
)

// fallbackPicks covers the case where neither Spotify nor the platform
// search can serve: a handful of safe picks per mood.
var fallbackPicks = map[session.Mood][]string{
	session.MoodHappy:     {"Pharrell Williams - Happy", "Earth, Wind & Fire - September", "Lizzo - Good as Hell"},
	session.MoodSad:       {"Adele - Someone Like You", "Bon Iver - Skinny Love", "Johnny Cash - Hurt"},
	session.MoodRelaxed:   {"Norah Jones - Don't Know Why", "Jack Johnson - Better Together", "Bill Evans - Peace Piece"},
	session.MoodEnergetic: {"Survivor - Eye of the Tiger", "The Prodigy - Breathe", "Daft Punk - Harder Better Faster Stronger"},
	session.MoodAnxious:   {"Weightless - Marconi Union", "Claude Debussy - Clair de Lune", "Sigur Ros - Hoppipolla"},
	session.MoodNostalgic: {"Fleetwood Mac - Dreams", "Oasis - Wonderwall", "Whitney Houston - I Wanna Dance with Somebody"},
}

var defaultFallback = []string{"Queen - Bohemian Rhapsody", "Stevie Wonder - Superstition", "The Beatles - Here Comes the Sun"}

func toPlayedTracks(tracks []services.SpotifyTrack) []session.PlayedTrack {
	if tracks == nil {
		return nil
	}
	out := make([]session.PlayedTrack, len(tracks))
	for i, t := range tracks {
		out[i] = session.PlayedTrack{ID: t.ID, Title: t.Name, Artist: t.ArtistNames()}
	}
	return out
}

// recommend builds seeds from everything known about the user and asks
// Spotify for tracks, degrading to platform search hits and then to the
// hardcoded picks.
func (b *Bot) recommend(ctx context.Context, userID, chatID int64) {
	b.api.SendChatAction(ctx, chatID, "typing")

	if b.tokens.Linked(userID) {
		b.refreshListeningIfEmpty(userID)
	}

	analysis := b.analyzeTaste(ctx, userID)
	genres := b.store.Genres(userID)
	if len(analysis.Genres) > 0 {
		genres = b.store.MergeInferredGenres(userID, analysis.Genres)
	}

	seeds := b.buildSeeds(ctx, userID, analysis, genres)
	tracks, err := b.spotify.Recommendations(ctx, seeds, 5)
	if err == nil && len(tracks) > 0 {
		b.reply(ctx, chatID, trackListText("Here's what I'd put on for you right now:", tracks))
		return
	}
	if err != nil {
		b.logger.Warn("spotify recommendations failed", "user_id", userID, "err", err)
	}

	// Platform search as the second source.
	query := searchQueryFor(b.store.Mood(userID), genres)
	if results, err := b.search(ctx, query); err == nil && len(results) > 0 {
		if len(results) > 5 {
			results = results[:5]
		}
		text := searchResultsText(query, results)
		if _, err := b.api.SendMessage(ctx, chatID, text, searchResultsKeyboard(results)); err == nil {
			return
		}
	}

	picks := fallbackPicks[b.store.Mood(userID)]
	if len(picks) == 0 {
		picks = defaultFallback
	}
	var sb strings.Builder
	sb.WriteString("My sources are being difficult, but these never miss:\n\n")
	for i, pick := range picks {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, esc(pick))
	}
	b.reply(ctx, chatID, sb.String())
}

// analyzeTaste asks the model for genre and artist signals; an empty
// analysis just means weaker seeds.
func (b *Bot) analyzeTaste(ctx context.Context, userID int64) services.Analysis {
	history := b.store.History(userID)
	var conversation strings.Builder
	for _, m := range history {
		if m.Role == session.RoleUser {
			conversation.WriteString(m.Content)
			conversation.WriteString("\n")
		}
	}

	recent, top := b.store.Listening(userID)
	var listening strings.Builder
	for _, t := range append(recent, top...) {
		fmt.Fprintf(&listening, "%s - %s\n", t.Artist, t.Title)
	}

	if conversation.Len() == 0 && listening.Len() == 0 {
		return services.Analysis{}
	}

	analysis, err := b.assistant.Analyze(ctx, conversation.String(), listening.String(),
		string(b.store.Mood(userID)), b.store.Genres(userID))
	if err != nil {
		b.logger.Debug("taste analysis failed", "user_id", userID, "err", err)
		return services.Analysis{}
	}
	return analysis
}

// buildSeeds resolves analysis artists to ids and combines them with genre
// and listening seeds.
func (b *Bot) buildSeeds(ctx context.Context, userID int64, analysis services.Analysis, genres []string) services.Seeds {
	seeds := services.Seeds{Genres: genres}

	for _, name := range analysis.Artists {
		id, err := b.spotify.SearchArtistID(ctx, name)
		if err != nil {
			b.logger.Debug("artist seed lookup failed", "artist", name, "err", err)
			continue
		}
		seeds.Artists = append(seeds.Artists, id)
	}

	recent, _ := b.store.Listening(userID)
	for _, t := range recent {
		if t.ID == "" {
			continue
		}
		seeds.Tracks = append(seeds.Tracks, t.ID)
		if len(seeds.Tracks) == 2 {
			break
		}
	}

	if seeds.Empty() {
		seeds.Genres = []string{"pop"}
	}
	return seeds
}

func (b *Bot) refreshListeningIfEmpty(userID int64) {
	recent, top := b.store.Listening(userID)
	if len(recent) > 0 || len(top) > 0 {
		return
	}
	b.refreshListening(userID)
}

// searchQueryFor shapes a platform search out of mood and genres.
func searchQueryFor(mood session.Mood, genres []string) string {
	genre := "popular"
	if len(genres) > 0 {
		genre = genres[0]
	}
	if mood == session.MoodUnset || mood == session.MoodNeutral {
		return fmt.Sprintf("best %s music mix", genre)
	}
	return fmt.Sprintf("%s %s music mix", mood, genre)
}
