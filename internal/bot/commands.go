package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/melodymind/internal/dialog"
	"github.com/desertthunder/melodymind/internal/shared"
)

// handleCommand routes a slash command. Unknown commands get a gentle nudge
// toward /help.
func (b *Bot) handleCommand(ctx context.Context, userID, chatID int64, text string) {
	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	b.logger.Info("command received", "user_id", userID, "command", command)

	switch command {
	case "/start":
		b.reply(ctx, chatID, "Hey! I'm <b>MelodyMind</b> 🎵 I can find music, fetch songs, dig up lyrics and recommend tracks that fit your mood.\n\nSend /help to see everything I can do, or just start chatting.")
	case "/help":
		b.reply(ctx, chatID, helpText)
	case "/download":
		if args == "" {
			b.reply(ctx, chatID, "Give me a link: <code>/download &lt;url&gt;</code>")
			return
		}
		b.startDownload(ctx, userID, chatID, args)
	case "/search":
		if args == "" {
			b.reply(ctx, chatID, "What should I look for? <code>/search &lt;song&gt;</code>")
			return
		}
		b.searchAndOffer(ctx, userID, chatID, args)
	case "/autodownload":
		if b.store.ToggleAutoDownload(userID) {
			b.reply(ctx, chatID, "Auto-download is <b>on</b>: I'll fetch the top hit right away.")
		} else {
			b.reply(ctx, chatID, "Auto-download is <b>off</b>: I'll show you options first.")
		}
	case "/lyrics":
		if args == "" {
			b.reply(ctx, chatID, "Which song? <code>/lyrics &lt;song&gt;</code>")
			return
		}
		b.sendLyrics(ctx, chatID, args)
	case "/recommend":
		b.recommend(ctx, userID, chatID)
	case "/mood":
		b.beginMoodCapture(ctx, userID, chatID)
	case "/link_spotify":
		b.beginLinking(ctx, userID, chatID)
	case "/spotify_code":
		if args == "" {
			b.reply(ctx, chatID, "Paste the code after the command: <code>/spotify_code &lt;code&gt;</code>")
			return
		}
		// Outside an active flow this starts one, so a pasted code always
		// has somewhere to land.
		if _, ok := b.dialogs.Get(userID, dialog.KindAccountLinking); !ok {
			b.dialogs.Begin(userID, dialog.KindAccountLinking)
		}
		b.handleAuthCode(ctx, userID, chatID, args)
	case "/create_playlist":
		b.createPlaylist(ctx, userID, chatID, args)
	case "/clear":
		if b.store.ClearHistory(userID) {
			b.reply(ctx, chatID, "Done, fresh start. Your mood and preferences are still saved.")
		} else {
			b.reply(ctx, chatID, "Nothing to forget yet.")
		}
	case "/cancel":
		b.cancelFlows(ctx, userID, chatID)
	default:
		b.reply(ctx, chatID, "I don't know that one. Send /help for the list.")
	}
}

// beginMoodCapture starts the mood dialog with the mood keyboard.
func (b *Bot) beginMoodCapture(ctx context.Context, userID, chatID int64) {
	b.dialogs.Begin(userID, dialog.KindMoodCapture)
	if _, err := b.api.SendMessage(ctx, chatID, "How are you feeling right now?", moodKeyboard()); err != nil {
		b.logger.Warn("send failed", "chat_id", chatID, "err", err)
	}
}

// beginLinking starts the account linking dialog and hands out the
// authorization URL. The user's id rides along as the state parameter so
// the callback server can correlate the redirect.
func (b *Bot) beginLinking(ctx context.Context, userID, chatID int64) {
	if b.tokens.Linked(userID) {
		b.reply(ctx, chatID, "Your Spotify is already linked. Send /cancel first if you want to relink.")
		return
	}

	b.dialogs.Begin(userID, dialog.KindAccountLinking)
	authURL := b.spotify.AuthURL(fmt.Sprintf("%d", userID))

	text := fmt.Sprintf(
		"Let's link your Spotify:\n\n1. Open <a href=\"%s\">this authorization page</a>\n2. Approve access\n3. Paste the code you get back here, or send <code>/spotify_code &lt;code&gt;</code>\n\nYou have 10 minutes. Send /cancel to stop.",
		authURL,
	)
	keyboard := keyboardRow("Cancel linking", "cancel_spotify")
	if _, err := b.api.SendMessage(ctx, chatID, text, keyboard); err != nil {
		b.logger.Warn("send failed", "chat_id", chatID, "err", err)
	}
}

// handleAuthCode consumes text while a linking dialog awaits a code.
// Implausible input and failed exchanges keep the dialog in place.
func (b *Bot) handleAuthCode(ctx context.Context, userID, chatID int64, text string) {
	if !dialog.PlausibleAuthCode(text) {
		b.dialogs.Touch(userID, dialog.KindAccountLinking)
		b.reply(ctx, chatID, "That doesn't look like an authorization code. Paste the whole code from the redirect, or send /cancel.")
		return
	}

	code := strings.TrimSpace(text)
	if err := b.tokens.Exchange(ctx, userID, code); err != nil {
		b.dialogs.Touch(userID, dialog.KindAccountLinking)
		b.logger.Warn("code exchange failed", "user_id", userID, "err", err)
		if errors.Is(err, shared.ErrAuthExpiredOrRevoked) {
			b.reply(ctx, chatID, "Spotify rejected that code. Codes are single-use, so grab a fresh one from the authorization page.")
		} else {
			b.reply(ctx, chatID, "I couldn't reach Spotify just now. Paste the code again in a moment.")
		}
		return
	}

	if err := b.dialogs.Advance(userID, dialog.KindAccountLinking, dialog.StepDone); err != nil {
		b.logger.Warn("linking dialog out of step", "user_id", userID, "err", err)
	}
	b.reply(ctx, chatID, "Linked! 🎉 Now /recommend can use what you actually listen to.")
	go b.refreshListening(userID)
}

// CompleteLinking finishes the linking flow with a code that arrived on the
// callback server rather than in chat.
func (b *Bot) CompleteLinking(ctx context.Context, userID int64, code string) error {
	if err := b.tokens.Exchange(ctx, userID, code); err != nil {
		b.dialogs.Touch(userID, dialog.KindAccountLinking)
		return err
	}

	b.dialogs.End(userID, dialog.KindAccountLinking)
	b.reply(ctx, userID, "Linked! 🎉 Now /recommend can use what you actually listen to.")
	go b.refreshListening(userID)
	return nil
}

// refreshListening snapshots the user's Spotify listening history into the
// session, best effort.
func (b *Bot) refreshListening(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bearer, err := b.tokens.AccessToken(ctx, userID)
	if err != nil {
		return
	}

	recent, err := b.spotify.RecentlyPlayed(ctx, bearer, 10)
	if err != nil {
		b.logger.Debug("recently played fetch failed", "user_id", userID, "err", err)
	}
	top, err := b.spotify.TopTracks(ctx, bearer, 10)
	if err != nil {
		b.logger.Debug("top tracks fetch failed", "user_id", userID, "err", err)
	}

	b.store.SetListening(userID, toPlayedTracks(recent), toPlayedTracks(top))
}

// createPlaylist makes a private playlist on the linked account.
func (b *Bot) createPlaylist(ctx context.Context, userID, chatID int64, name string) {
	bearer, err := b.tokens.AccessToken(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotLinked) || errors.Is(err, shared.ErrAuthExpiredOrRevoked) {
			b.reply(ctx, chatID, "I need your Spotify for that. Send /link_spotify first.")
		} else {
			b.reply(ctx, chatID, "Spotify isn't answering right now. Try again in a bit.")
		}
		return
	}

	profile, err := b.spotify.Profile(ctx, bearer)
	if err != nil {
		b.reply(ctx, chatID, "I couldn't read your Spotify profile. Try again in a bit.")
		return
	}

	if name == "" {
		name = "MelodyMind Mix"
	}
	playlist, err := b.spotify.CreatePlaylist(ctx, bearer, profile.ID, name, "Made with MelodyMind")
	if err != nil {
		b.logger.Warn("playlist creation failed", "user_id", userID, "err", err)
		b.reply(ctx, chatID, "Playlist creation didn't go through. Try again in a bit.")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Created <a href=\"%s\">%s</a> on your Spotify. It's private, just for you.", playlist.ExternalURLs.Spotify, esc(playlist.Name)))
}

// cancelFlows ends whatever dialog is active.
func (b *Bot) cancelFlows(ctx context.Context, userID, chatID int64) {
	cancelled := b.dialogs.End(userID, dialog.KindMoodCapture)
	cancelled = b.dialogs.End(userID, dialog.KindAccountLinking) || cancelled

	if cancelled {
		b.reply(ctx, chatID, "Cancelled. What next?")
	} else {
		b.reply(ctx, chatID, "Nothing to cancel right now.")
	}
}
