// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"sync"
	"time"

	"go.astrophena.name/tgdrive/internal/telegram"
	"go.astrophena.name/tgdrive/internal/transfer"

	"golang.org/x/time/rate"
)

const (
	progressInterval    = 3 * time.Second
	finalMessageTimeout = 30 * time.Second
)

// reporter keeps the user informed about a transfer through a single status
// message that is edited as the transfer goes.
type reporter struct {
	b   *bot
	ctx context.Context
	m   *telegram.Message
	in  incoming

	throttle rate.Sometimes

	mu        sync.Mutex
	messageID int64 // 0 until the status message is sent
}

func (b *bot) newReporter(ctx context.Context, m *telegram.Message, in incoming) *reporter {
	return &reporter{
		b:        b,
		ctx:      ctx,
		m:        m,
		in:       in,
		throttle: rate.Sometimes{Interval: progressInterval},
	}
}

func (r *reporter) observer() *transfer.Observer {
	return &transfer.Observer{
		OnState:    r.state,
		OnProgress: r.progress,
	}
}

func (r *reporter) state(s transfer.State, attempt int) {
	switch s {
	case transfer.Fetching:
		r.show(r.ctx, downloadingMessage(r.in, attempt))
	case transfer.Uploading:
		r.show(r.ctx, uploadingMessage(r.in, 0))
	}
}

func (r *reporter) progress(sent, total int64) {
	if total <= 0 {
		return
	}
	r.throttle.Do(func() {
		r.show(r.ctx, uploadingMessage(r.in, int(sent*100/total)))
	})
}

// finish reports the outcome. It is delivered even if the transfer was
// canceled.
func (r *reporter) finish(res transfer.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), finalMessageTimeout)
	defer cancel()

	if res.State == transfer.Succeeded {
		r.show(ctx, successMessage(r.in, res.File))
		return
	}
	r.show(ctx, failureMessage(res))
}

// show sends the status message, or edits it if it was sent already.
func (r *reporter) show(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tg, chatID := r.b.tg, r.m.Chat.ID
	if r.messageID != 0 {
		if err := tg.EditMessageText(ctx, chatID, r.messageID, text); err != nil {
			r.b.logger.Warn("updating status message failed", "chat", chatID, "error", err)
		}
		return
	}
	msg, err := tg.SendMessage(ctx, chatID, r.m.MessageID, text)
	if err != nil {
		r.b.logger.Warn("sending status message failed", "chat", chatID, "error", err)
		return
	}
	r.messageID = msg.MessageID
}
