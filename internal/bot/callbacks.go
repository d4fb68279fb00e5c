package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/melodymind/internal/dialog"
	"github.com/desertthunder/melodymind/internal/session"
	"github.com/desertthunder/melodymind/internal/telegram"
)

// handleCallback routes inline button presses by data prefix. Every press
// gets acknowledged so the client's spinner stops.
func (b *Bot) handleCallback(ctx context.Context, query *telegram.CallbackQuery) {
	userID := query.From.ID
	var chatID, messageID int64
	if query.Message != nil {
		chatID, messageID = query.Message.Chat.ID, query.Message.MessageID
	}

	data := query.Data
	b.logger.Debug("callback received", "user_id", userID, "data", data)

	switch {
	case strings.HasPrefix(data, "mood_"):
		b.ack(ctx, query.ID, "")
		b.handleMoodChoice(ctx, userID, chatID, messageID, strings.TrimPrefix(data, "mood_"))
	case data == "pref_done":
		b.ack(ctx, query.ID, "")
		b.finishMoodCapture(ctx, userID, chatID, messageID)
	case strings.HasPrefix(data, "pref_"):
		b.handleGenreChoice(ctx, query, strings.TrimPrefix(data, "pref_"))
	case strings.HasPrefix(data, "download_"):
		b.ack(ctx, query.ID, "")
		if chatID != 0 {
			b.api.DeleteMessage(ctx, chatID, messageID)
		}
		b.startDownload(ctx, userID, chatID, strings.TrimPrefix(data, "download_"))
	case data == "cancel_search":
		b.ack(ctx, query.ID, "Okay, never mind.")
		if chatID != 0 {
			b.api.DeleteMessage(ctx, chatID, messageID)
		}
	case data == "cancel_spotify":
		b.ack(ctx, query.ID, "")
		b.dialogs.End(userID, dialog.KindAccountLinking)
		if chatID != 0 {
			b.api.EditMessageText(ctx, chatID, messageID, "Linking cancelled. Send /link_spotify whenever you're ready.", nil)
		}
	default:
		b.ack(ctx, query.ID, "")
	}
}

func (b *Bot) ack(ctx context.Context, callbackID, text string) {
	if err := b.api.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		b.logger.Debug("callback ack failed", "err", err)
	}
}

// handleMoodChoice records the chosen mood and moves the dialog on to
// genre preferences. A press on a stale keyboard still records the mood.
func (b *Bot) handleMoodChoice(ctx context.Context, userID, chatID, messageID int64, raw string) {
	mood, ok := session.ParseMood(raw)
	if !ok {
		b.logger.Warn("unknown mood callback", "user_id", userID, "raw", raw)
		return
	}
	b.store.SetMood(userID, mood)

	if _, active := b.dialogs.Get(userID, dialog.KindMoodCapture); active {
		if err := b.dialogs.Advance(userID, dialog.KindMoodCapture, dialog.StepAwaitingPreference); err != nil {
			b.logger.Warn("mood dialog out of step", "user_id", userID, "err", err)
		}
	}

	text := fmt.Sprintf("Noted, feeling <b>%s</b>. What do you like listening to? Pick as many as you want.", esc(string(mood)))
	if chatID != 0 {
		if err := b.api.EditMessageText(ctx, chatID, messageID, text, genreKeyboard()); err != nil {
			b.logger.Warn("edit failed", "chat_id", chatID, "err", err)
		}
	}
}

// handleGenreChoice toggles a genre in the preference set, answering the
// press with the current selection.
func (b *Bot) handleGenreChoice(ctx context.Context, query *telegram.CallbackQuery, genre string) {
	userID := query.From.ID

	current := b.store.Genres(userID)
	var next []string
	removed := false
	for _, g := range current {
		if g == genre {
			removed = true
			continue
		}
		next = append(next, g)
	}
	if !removed {
		next = append(next, genre)
	}
	b.store.SetGenres(userID, next)
	b.dialogs.Touch(userID, dialog.KindMoodCapture)

	if len(next) == 0 {
		b.ack(ctx, query.ID, "Cleared.")
		return
	}
	b.ack(ctx, query.ID, "Picked: "+strings.Join(next, ", "))
}

// finishMoodCapture closes the dialog and confirms what was captured.
func (b *Bot) finishMoodCapture(ctx context.Context, userID, chatID, messageID int64) {
	if _, active := b.dialogs.Get(userID, dialog.KindMoodCapture); active {
		if err := b.dialogs.Advance(userID, dialog.KindMoodCapture, dialog.StepDone); err != nil {
			b.logger.Warn("mood dialog out of step", "user_id", userID, "err", err)
		}
	}

	mood := b.store.Mood(userID)
	genres := b.store.Genres(userID)

	text := "All set!"
	if mood != session.MoodUnset {
		text = fmt.Sprintf("All set! Mood: <b>%s</b>.", esc(string(mood)))
	}
	if len(genres) > 0 {
		text += fmt.Sprintf(" Into: %s.", esc(strings.Join(genres, ", ")))
	}
	text += " Try /recommend when you want something to listen to."

	if chatID != 0 {
		if err := b.api.EditMessageText(ctx, chatID, messageID, text, nil); err != nil {
			b.logger.Warn("edit failed", "chat_id", chatID, "err", err)
		}
	}
}
