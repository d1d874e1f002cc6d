// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"strings"

	"go.astrophena.name/tgdrive/internal/credstore"
	"go.astrophena.name/tgdrive/internal/telegram"
	"go.astrophena.name/tgdrive/internal/transfer"
)

// handleMessage dispatches a message. It never blocks on transfers.
func (b *bot) handleMessage(ctx context.Context, m *telegram.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}

	if cmd, ok := b.command(m.Text); ok {
		b.handleCommand(ctx, m, cmd)
		return
	}
	if in, ok := fileOf(m); ok {
		b.handleFile(ctx, m, in)
		return
	}
	if strings.TrimSpace(m.Text) != "" {
		b.handleCode(ctx, m)
	}
}

// command returns the name of the command in text, if text is a command
// addressed to this bot.
func (b *bot) command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, mention, hasMention := strings.Cut(name, "@")
	if hasMention && b.me != nil && !strings.EqualFold(mention, b.me.Username) {
		return "", false
	}
	return strings.ToLower(name), name != ""
}

func (b *bot) handleCommand(ctx context.Context, m *telegram.Message, cmd string) {
	user := m.From.ID
	switch cmd {
	case "start":
		b.reply(ctx, m, b.startMessage())
	case "help":
		b.reply(ctx, m, b.helpMessage())
	case "info":
		b.reply(ctx, m, b.infoMessage())
	case "status":
		b.reply(ctx, m, statusMessage(b.creds.Status(ctx, user)))
	case "auth":
		flow, err := b.creds.Begin(ctx, user)
		if err != nil {
			b.logger.Error("starting authorization failed", "user", user, "error", err)
			b.reply(ctx, m, msgAuthUnavailable)
			return
		}
		b.reply(ctx, m, authMessage(flow.URL))
	case "logout":
		if err := b.creds.Forget(ctx, user); err != nil {
			b.logger.Error("forgetting credentials failed", "user", user, "error", err)
			b.reply(ctx, m, msgLogoutFailed)
			return
		}
		b.reply(ctx, m, msgLoggedOut)
	default:
		b.reply(ctx, m, msgUnknownCommand)
	}
}

func statusMessage(s credstore.Status) string {
	switch s {
	case credstore.ValidAuthorized:
		return "✅ Your Google Drive account is linked. Send me any file to save it."
	case credstore.ExpiredNeedsReauth:
		return "⚠️ Access to your Google Drive has expired. Use /auth to link your account again."
	case credstore.PendingExchange:
		return "⏳ Waiting for the authorization code. Send it here, or use /auth to get a new link."
	default:
		return "❌ Your account is not linked. Use /auth to link your Google Drive."
	}
}

// handleCode takes the text of m as an authorization code.
func (b *bot) handleCode(ctx context.Context, m *telegram.Message) {
	user := m.From.ID
	if !b.creds.Pending(ctx, user) {
		b.reply(ctx, m, msgNoPendingFlow)
		return
	}

	_, err := b.creds.Complete(ctx, user, strings.TrimSpace(m.Text))
	switch {
	case err == nil:
		b.logger.Info("account linked", "user", user)
		b.reply(ctx, m, msgAuthorized)
	case errors.Is(err, credstore.ErrInvalidCode):
		b.logger.Info("invalid authorization code", "user", user, "error", err)
		b.reply(ctx, m, msgInvalidCode)
	case errors.Is(err, credstore.ErrNoPendingFlow):
		b.reply(ctx, m, msgNoPendingFlow)
	default:
		b.logger.Error("completing authorization failed", "user", user, "error", err)
		b.reply(ctx, m, msgAuthFailed)
	}
}

// handleFile starts a transfer of in unless the user already has one running
// or all slots are taken. Rejected files are not queued.
func (b *bot) handleFile(ctx context.Context, m *telegram.Message, in incoming) {
	user := m.From.ID
	if _, busy := b.inFlight.LoadOrStore(user, struct{}{}); busy {
		b.reply(ctx, m, msgUserBusy)
		return
	}
	if !b.slots.TryAcquire(1) {
		b.inFlight.Delete(user)
		b.logger.Info("all transfer slots are taken, rejecting file", "user", user)
		b.reply(ctx, m, msgBusy)
		return
	}

	b.running.Add(1)
	b.active.Add(1)
	go func() {
		defer b.active.Done()
		defer b.slots.Release(1)
		defer b.running.Add(-1)
		defer b.inFlight.Delete(user)
		b.transfer(ctx, m, in)
	}()
}

func (b *bot) transfer(ctx context.Context, m *telegram.Message, in incoming) transfer.Result {
	r := b.newReporter(ctx, m, in)
	res := b.transfers.Run(ctx, transfer.Request{
		FileID:       in.fileID,
		DeclaredSize: in.size,
		Name:         in.name,
		Owner:        m.From.ID,
		ChatID:       m.Chat.ID,
	}, r.observer())
	r.finish(res)
	return res
}

// reply sends text in response to m. Failures are logged.
func (b *bot) reply(ctx context.Context, m *telegram.Message, text string) {
	if _, err := b.tg.SendMessage(ctx, m.Chat.ID, m.MessageID, text); err != nil {
		b.logger.Warn("sending message failed", "chat", m.Chat.ID, "error", err)
	}
}
