// Package telegram delivers meeting notifications as Telegram messages.
//
// Participants are routed by email through a static email -> chat id table.
// Only sending is supported; the bot never polls for updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"meetsync/internal/model"
	"meetsync/internal/transport"
	logx "meetsync/pkg/logx"
)

type Config struct {
	Token string
	// Chats maps participant email to Telegram chat id.
	Chats map[string]int64
	// DefaultChatID receives messages for unmapped recipients when non-zero.
	DefaultChatID int64
	// Offline skips the getMe call at construction time.
	Offline bool
	Timeout time.Duration
}

// sender is the subset of *tele.Bot used for delivery.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Transport struct {
	log   logx.Logger
	bot   sender
	chats map[string]int64
	def   int64
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Poller:  &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return newWithSender(b, cfg, log), nil
}

func newWithSender(b sender, cfg Config, log logx.Logger) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	chats := make(map[string]int64, len(cfg.Chats))
	for email, id := range cfg.Chats {
		chats[model.NormalizeEmail(email)] = id
	}
	return &Transport{
		log:   log.With(logx.Component("transport.telegram")),
		bot:   b,
		chats: chats,
		def:   cfg.DefaultChatID,
	}
}

func (t *Transport) chatFor(email string) (int64, bool) {
	if id, ok := t.chats[model.NormalizeEmail(email)]; ok {
		return id, true
	}
	if t.def != 0 {
		return t.def, true
	}
	return 0, false
}

// Send renders subject in bold followed by body and sends it in one or more
// chunks. The first chunk failure fails the whole send.
func (t *Transport) Send(ctx context.Context, to, subject, body string) error {
	chatID, ok := t.chatFor(to)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrNoRecipient, to)
	}
	text := "<b>" + html.EscapeString(subject) + "</b>\n\n" + html.EscapeString(body)
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit, tele.ModeHTML) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(chat, chunk, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}); err != nil {
			t.log.Debug("telegram send failed", logx.String("to", to), logx.Int64("chat_id", chatID), logx.Err(err))
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and avoids splitting inside HTML tags when
// parseMode is HTML.
func splitText(s string, limit int, parseMode tele.ParseMode) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if parseMode == tele.ModeHTML && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
