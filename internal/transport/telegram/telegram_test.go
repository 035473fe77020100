package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"meetsync/internal/transport"
	logx "meetsync/pkg/logx"
)

type fakeBot struct {
	sent []string
	to   []int64
	err  error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.to = append(f.to, to.(*tele.Chat).ID)
	f.sent = append(f.sent, what.(string))
	return &tele.Message{ID: len(f.sent)}, nil
}

func TestSendRoutesByEmail(t *testing.T) {
	fb := &fakeBot{}
	tr := newWithSender(fb, Config{Chats: map[string]int64{"Ana@X.io": 42}}, logx.Nop())

	if err := tr.Send(context.Background(), "ana@x.io", "Invite <1>", "see you"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fb.sent) != 1 || fb.to[0] != 42 {
		t.Fatalf("unexpected sends: %+v", fb)
	}
	if !strings.HasPrefix(fb.sent[0], "<b>Invite &lt;1&gt;</b>") {
		t.Fatalf("subject not escaped: %q", fb.sent[0])
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	tr := newWithSender(&fakeBot{}, Config{}, logx.Nop())
	err := tr.Send(context.Background(), "who@x.io", "s", "b")
	if !errors.Is(err, transport.ErrNoRecipient) {
		t.Fatalf("err=%v want ErrNoRecipient", err)
	}
}

func TestSendDefaultChatAndErrors(t *testing.T) {
	boom := errors.New("429")
	tr := newWithSender(&fakeBot{err: boom}, Config{DefaultChatID: 7}, logx.Nop())
	if err := tr.Send(context.Background(), "who@x.io", "s", "b"); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSplitText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"long", strings.Repeat("a", 25), 10, 3},
		{"newlines", strings.Repeat("aaaa\n", 6), 10, 3},
	}
	for _, tc := range cases {
		got := splitText(tc.in, tc.limit, tele.ModeDefault)
		if len(got) != tc.want {
			t.Fatalf("%s: got %d chunks %q, want %d", tc.name, len(got), got, tc.want)
		}
		for _, c := range got {
			if len([]rune(c)) > tc.limit {
				t.Fatalf("%s: chunk too long: %q", tc.name, c)
			}
		}
	}
}

func TestSplitTextAvoidsBreakingTags(t *testing.T) {
	in := strings.Repeat("x", 8) + "<b>bold</b>"
	for _, c := range splitText(in, 10, tele.ModeHTML) {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("tag split across chunks: %q", c)
		}
	}
}
