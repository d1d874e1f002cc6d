// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"errors"
	"fmt"
	"strings"

	"go.astrophena.name/tgdrive/internal/fetch"
	"go.astrophena.name/tgdrive/internal/telegram"
	"go.astrophena.name/tgdrive/internal/transfer"
	"go.astrophena.name/tgdrive/internal/upload"

	"github.com/dustin/go-humanize"
)

var commands = []telegram.BotCommand{
	{Command: "start", Description: "Show the greeting"},
	{Command: "auth", Description: "Link your Google Drive account"},
	{Command: "status", Description: "Show whether your account is linked"},
	{Command: "logout", Description: "Unlink your Google Drive account"},
	{Command: "info", Description: "Show the server and the file size limit"},
	{Command: "help", Description: "Show how to use the bot"},
}

const (
	msgAuthorized      = "✅ Your Google Drive account is linked. Send me any file to save it."
	msgInvalidCode     = "❌ This authorization code doesn't work. Check it and send it again, or start over with /auth."
	msgNoPendingFlow   = "❌ I'm not waiting for an authorization code. Use /auth to link your account first."
	msgAuthFailed      = "❌ Couldn't link your account. Try again with /auth."
	msgAuthUnavailable = "❌ Linking accounts is not available right now. Try again later."
	msgLoggedOut       = "👋 Your Google Drive account is unlinked. Files already saved stay in your Drive."
	msgLogoutFailed    = "❌ Couldn't unlink your account. Try again later."
	msgUnknownCommand  = "Unknown command. See /help."
	msgNotAuthorized   = "❌ Link your Google Drive account first with /auth."
	msgUserBusy        = "⏳ I'm still saving your previous file. Send this one again when it's done."
	msgBusy            = "⏳ I'm busy with other files right now. Try again in a few minutes."
	msgFetchFailed     = "❌ Couldn't download the file from Telegram. Try again later."
	msgUploadFailed    = "❌ Couldn't upload the file to Google Drive. Try again later."
	msgQuotaExceeded   = "❌ Your Google Drive is full."
	msgCanceled        = "❌ The bot is restarting and the transfer was interrupted. Send the file again in a minute."
	msgInternal        = "❌ Something went wrong while saving the file."
)

func (b *bot) serverType() string {
	if fetch.IsPublicGateway(b.apiServer) {
		return "public Bot API server"
	}
	return "self-hosted Bot API server"
}

func (b *bot) limit() string { return humanize.IBytes(uint64(b.fetcher.Limit())) }

func (b *bot) startMessage() string {
	return fmt.Sprintf(`👋 Hi! I save files you send me to your Google Drive.

/auth - link your Google Drive account
/status - show whether your account is linked
/logout - unlink your Google Drive account
/info - show the server and the file size limit
/help - show how to use the bot

Link your account with /auth first, then send me any file.

Files up to %s are accepted.`, b.limit())
}

func (b *bot) helpMessage() string {
	return fmt.Sprintf(`How to use the bot:

1. Send /auth and open the link.
2. Sign in to Google and allow access.
3. Copy the authorization code and send it here.
4. Send me files: documents, photos, videos, audio, voice messages and animations.

Files up to %s are accepted. Large files take longer. Files are not kept on the server.`, b.limit())
}

func (b *bot) infoMessage() string {
	return fmt.Sprintf(`Server: %s
Address: %s
Maximum file size: %s

The public Bot API server accepts files up to %s, a self-hosted one up to %s.`,
		b.serverType(),
		b.apiServer,
		b.limit(),
		humanize.IBytes(uint64(fetch.StandardLimit)),
		humanize.IBytes(uint64(fetch.ExtendedLimit)),
	)
}

func authMessage(authURL string) string {
	return `🔗 To link your Google Drive account:

1. Open this link:
` + authURL + `

2. Sign in to Google and allow access.
3. Copy the authorization code.
4. Send the code here.

The link works for a limited time.`
}

func downloadingMessage(in incoming, attempt int) string {
	msg := "📥 Downloading " + in.name
	if in.size > 0 {
		msg += " (" + humanize.IBytes(uint64(in.size)) + ")"
	}
	if attempt > 1 {
		msg += fmt.Sprintf(", attempt %d", attempt)
	}
	return msg + "…"
}

func uploadingMessage(in incoming, percent int) string {
	return fmt.Sprintf("☁️ Uploading %s to Google Drive: %d%%", in.name, percent)
}

func successMessage(in incoming, f *upload.File) string {
	var sb strings.Builder
	sb.WriteString("✅ Saved to Google Drive.\n\n")
	fmt.Fprintf(&sb, "Name: %s\n", f.Name)
	fmt.Fprintf(&sb, "Size: %s\n", humanize.IBytes(uint64(f.Size)))
	if in.kind == "video" && in.duration > 0 {
		fmt.Fprintf(&sb, "Duration: %s\n", in.duration)
	}
	fmt.Fprintf(&sb, "Link: %s", f.Link)
	return sb.String()
}

// failureMessage explains a failed transfer to the user. Details stay in
// logs.
func failureMessage(res transfer.Result) string {
	switch res.Kind {
	case transfer.KindNotAuthorized:
		return msgNotAuthorized
	case transfer.KindFileTooLarge:
		var tle *fetch.TooLargeError
		if errors.As(res.Err, &tle) {
			return fmt.Sprintf("❌ The file is too large (%s). The limit is %s.",
				humanize.IBytes(uint64(tle.Size)), humanize.IBytes(uint64(tle.Limit)))
		}
		return "❌ The file is too large."
	case transfer.KindFetch:
		return msgFetchFailed
	case transfer.KindUpload:
		var ue *upload.Error
		if errors.As(res.Err, &ue) && ue.QuotaExceeded() {
			return msgQuotaExceeded
		}
		return msgUploadFailed
	case transfer.KindCanceled:
		return msgCanceled
	default:
		return msgInternal
	}
}
