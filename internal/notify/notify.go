// Package notify pushes trade and lifecycle messages to Telegram. Delivery is
// fire-and-forget: a notification failure must never stall or fail a tick.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrADeveci/fusion-sniper-bot/internal/config"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends messages to a single Telegram chat.
type Notifier struct {
	cfg     config.Telegram
	client  *http.Client
	log     zerolog.Logger
	apiBase string
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithAPIBase overrides the Telegram API host, used by tests.
func WithAPIBase(base string) Option {
	return func(n *Notifier) { n.apiBase = base }
}

// New builds a notifier. A disabled config yields a no-op notifier, so callers
// never need to branch.
func New(cfg config.Telegram, log zerolog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		apiBase: defaultAPIBase,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether messages will actually be sent.
func (n *Notifier) Enabled() bool {
	return n.cfg.Enabled && n.cfg.BotToken != "" && n.cfg.ChatID != ""
}

// Send queues a message for asynchronous delivery and returns immediately.
func (n *Notifier) Send(text string) {
	if !n.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.deliver(ctx, text); err != nil {
			n.log.Warn().Err(err).Msg("telegram delivery failed")
		}
	}()
}

// SendSync delivers a message and reports the outcome, used at startup and
// shutdown where ordering matters.
func (n *Notifier) SendSync(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}
	return n.deliver(ctx, text)
}

func (n *Notifier) deliver(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.cfg.BotToken)
	form := url.Values{
		"chat_id": {n.cfg.ChatID},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}
