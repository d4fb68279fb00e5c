package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
	"github.com/desertthunder/melodymind/internal/shared"
	"github.com/desertthunder/melodymind/internal/telegram"
)

const helpText = `<b>MelodyMind</b> can do this for you:

/download &lt;link&gt; - download a song from a link
/search &lt;song&gt; - find a song and pick a result
/autodownload - toggle downloading the top search hit right away
/lyrics &lt;song&gt; - look up lyrics
/recommend - get recommendations tuned to you
/mood - tell me how you feel and what you like
/link_spotify - connect your Spotify account
/spotify_code &lt;code&gt; - finish linking with the code
/create_playlist &lt;name&gt; - make a private playlist
/clear - forget our conversation
/cancel - stop what we were doing

You can also just chat, paste a YouTube link or send a voice note.`

func esc(s string) string { return html.EscapeString(s) }

// keyboardRow builds a single-button keyboard.
func keyboardRow(text, callbackData string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: text, CallbackData: callbackData}},
		},
	}
}

// searchResultsText lists search hits as numbered HTML lines.
func searchResultsText(query string, results []services.VideoResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Here's what I found for <b>%s</b>:\n\n", esc(query))
	for i, r := range results {
		line := shared.JoinNonEmpty(" | ", esc(r.Title), esc(r.Uploader), shared.FormatDuration(r.Duration))
		fmt.Fprintf(&sb, "%d. %s\n", i+1, line)
	}
	return sb.String()
}

// searchResultsKeyboard builds one download button per hit plus a cancel row.
func searchResultsKeyboard(results []services.VideoResult) *telegram.InlineKeyboardMarkup {
	var rows [][]telegram.InlineKeyboardButton
	for i, r := range results {
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         fmt.Sprintf("⬇️ %d. %s", i+1, shared.Truncate(r.Title, 40)),
			CallbackData: "download_" + r.ID,
		}})
	}
	rows = append(rows, []telegram.InlineKeyboardButton{{Text: "Cancel", CallbackData: "cancel_search"}})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// moodKeyboard offers the mood choices two per row.
func moodKeyboard() *telegram.InlineKeyboardMarkup {
	moods := []struct {
		label string
		mood  session.Mood
	}{
		{"😊 Happy", session.MoodHappy},
		{"😔 Sad", session.MoodSad},
		{"😌 Relaxed", session.MoodRelaxed},
		{"⚡ Energetic", session.MoodEnergetic},
		{"😟 Anxious", session.MoodAnxious},
		{"🕰 Nostalgic", session.MoodNostalgic},
		{"😐 Neutral", session.MoodNeutral},
	}

	var rows [][]telegram.InlineKeyboardButton
	for i := 0; i < len(moods); i += 2 {
		row := []telegram.InlineKeyboardButton{{
			Text:         moods[i].label,
			CallbackData: "mood_" + string(moods[i].mood),
		}}
		if i+1 < len(moods) {
			row = append(row, telegram.InlineKeyboardButton{
				Text:         moods[i+1].label,
				CallbackData: "mood_" + string(moods[i+1].mood),
			})
		}
		rows = append(rows, row)
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// genreKeyboard offers genre preferences plus a done row.
func genreKeyboard() *telegram.InlineKeyboardMarkup {
	genres := []string{"pop", "rock", "hip-hop", "electronic", "jazz", "classical", "r&b", "indie"}

	var rows [][]telegram.InlineKeyboardButton
	for i := 0; i < len(genres); i += 2 {
		row := []telegram.InlineKeyboardButton{{Text: genres[i], CallbackData: "pref_" + genres[i]}}
		if i+1 < len(genres) {
			row = append(row, telegram.InlineKeyboardButton{Text: genres[i+1], CallbackData: "pref_" + genres[i+1]})
		}
		rows = append(rows, row)
	}
	rows = append(rows, []telegram.InlineKeyboardButton{{Text: "✅ Done", CallbackData: "pref_done"}})
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// trackListText renders recommended tracks as numbered HTML lines.
func trackListText(intro string, tracks []services.SpotifyTrack) string {
	var sb strings.Builder
	sb.WriteString(intro)
	sb.WriteString("\n\n")
	for i, track := range tracks {
		fmt.Fprintf(&sb, "%d. <b>%s</b> - %s\n", i+1, esc(track.Name), esc(track.ArtistNames()))
	}
	sb.WriteString("\nAsk me to find any of these and I'll fetch it for you.")
	return sb.String()
}

// lyricsText renders a lyrics lookup, bounded to the message size limit.
func lyricsText(lyrics *services.Lyrics) string {
	header := fmt.Sprintf("<b>%s</b> - %s\n\n", esc(lyrics.Title), esc(lyrics.Artist))
	body := esc(lyrics.Text)

	const messageLimit = 4096
	if len(header)+len(body) > messageLimit {
		body = shared.Truncate(body, messageLimit-len(header)-30) + "\n\n[...]"
	}
	return header + body
}
