// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgdrive is a Telegram bot that saves files sent to it into the sender's
Google Drive.

Each user links their own Drive account with the /auth command. After that,
every document, photo, video, audio, voice message or animation sent to the
bot is downloaded from the Bot API server and uploaded to Drive, and the bot
replies with a link to the uploaded file.

The public Bot API server lets bots download files up to 20 MiB. With a
self-hosted Bot API server (see BOT_API_SERVER) the limit is 2 GiB. Files of
50 MiB and more are buffered in a temporary file instead of memory.

# Usage

	$ tgdrive [flags...] [run]
	$ tgdrive credentials

The run command (default) starts the bot. The credentials command checks the
Google OAuth client secret file, or writes credentials_template.json if the
file doesn't exist yet.

# Bot commands

	/start   greeting and the current limits
	/help    how to use the bot
	/auth    link a Google Drive account
	/status  show whether the account is linked
	/logout  unlink the Google Drive account
	/info    show the Bot API server and the file size limit

After /auth, the next plain text message is taken as the authorization code.

# Environment Variables

  - TELEGRAM_BOT_TOKEN: The Telegram bot token. Required.
  - GOOGLE_CREDENTIALS_FILE: Path to the Google OAuth client secret file
    (default: credentials.json).
  - BOT_API_SERVER: Base URL of the Bot API server
    (default: https://api.telegram.org).
  - OAUTH_REDIRECT_URL: OAuth redirect URL (default: the first one in the
    client secret file, or urn:ietf:wg:oauth:2.0:oob).
  - DRIVE_FOLDER_ID: ID of the Drive folder to upload into. Empty means the
    root of each user's Drive.
  - TOKEN_STORE: Where linked accounts are kept. Empty keeps them in memory, a
    postgres:// URL uses PostgreSQL, anything else is a path to a JSON file.
  - MAX_TRANSFERS: How many files are transferred at once (default: 4).
  - ADMIN_ADDR: Address of the admin HTTP server that serves /health,
    /metrics and /debug/logs. Disabled if empty.
  - TEMP_DIR: Directory for temporary files.

When running under systemd, tgdrive reports readiness and, if enabled, pings
the watchdog.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/tgdrive/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
