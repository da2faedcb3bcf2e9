// Package telegram adapts the Telegram Bot API to the gateway's event
// model: long-polled updates become typed inbound events, and the channel
// doubles as the media downloader and user-notice sink.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/inlet/internal/bus"
	"github.com/nextlevelbuilder/inlet/internal/config"
)

const (
	// downloadMaxRetries bounds GetFile attempts before giving up.
	downloadMaxRetries = 3

	// fileAPIBase is where file payloads are fetched from unless a proxy
	// Bot API server is configured.
	fileAPIBase = "https://api.telegram.org"
)

// EventSink receives each converted inbound event.
type EventSink func(ev bus.InboundEvent)

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	bot      *telego.Bot
	cfg      config.TelegramConfig
	maxBytes int64
	sink     EventSink

	// Telegram throttles file downloads; one limiter covers the bot.
	dlLimit *rate.Limiter
	httpc   *http.Client

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the channel. Events flow to sink as they arrive.
func New(cfg config.TelegramConfig, maxBytes int64, sink EventSink) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.APIProxy != "" {
		if _, err := url.Parse(cfg.APIProxy); err != nil {
			return nil, fmt.Errorf("invalid api proxy %q: %w", cfg.APIProxy, err)
		}
		opts = append(opts, telego.WithAPIServer(cfg.APIProxy))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		bot:      bot,
		cfg:      cfg,
		maxBytes: maxBytes,
		sink:     sink,
		dlLimit:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		httpc:    &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Start begins long polling for updates and converting them to events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram channel (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram channel connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message == nil {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
					continue
				}
				ev, ok := eventFromMessage(update.Message)
				if !ok {
					slog.Debug("telegram message skipped (no routable payload)",
						"chat_id", update.Message.Chat.ID,
						"message_id", update.Message.MessageID)
					continue
				}
				c.sink(ev)
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine so the
// getUpdates lock is released before a new instance starts.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping telegram channel")
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram channel stopped")
		case <-ctx.Done():
			slog.Warn("telegram polling did not stop before deadline")
			return ctx.Err()
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling did not stop within 10s")
		}
	}
	return nil
}

// Download resolves a media reference to a local temp file. Partial writes
// are removed before an error is returned, so a failed download never
// leaves a file behind.
func (c *Channel) Download(ctx context.Context, ref bus.MediaRef) (string, error) {
	if err := c.dlLimit.Wait(ctx); err != nil {
		return "", err
	}

	var file *telego.File
	var err error
	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: ref.FileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			slog.Debug("retrying file lookup", "file_id", ref.FileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", ref.FileID)
	}
	if c.maxBytes > 0 && int64(file.FileSize) > c.maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (limit %d)", file.FileSize, c.maxBytes)
	}

	base := c.cfg.APIProxy
	if base == "" {
		base = fileAPIBase
	}
	downloadURL := fmt.Sprintf("%s/file/bot%s/%s", base, c.cfg.Token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = filepath.Ext(ref.FileName)
	}
	if ext == "" {
		ext = ".bin"
	}
	tmp, err := os.CreateTemp("", "inlet_media_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	limit := c.maxBytes
	if limit <= 0 {
		limit = 1 << 31
	}
	written, err := io.Copy(tmp, io.LimitReader(resp.Body, limit+1))
	closeErr := tmp.Close()
	switch {
	case err != nil:
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save file: %w", err)
	case closeErr != nil:
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save file: %w", closeErr)
	case written > limit:
		os.Remove(tmp.Name())
		return "", fmt.Errorf("file exceeds size limit during download: %d bytes", written)
	}

	return tmp.Name(), nil
}

// Notify sends a short text notice back to the conversation.
func (c *Channel) Notify(ctx context.Context, convID, text string) error {
	chatID, err := strconv.ParseInt(convID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid conversation id %q: %w", convID, err)
	}
	_, err = c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// BotUsername returns the connected bot's username, used by the command
// classifier to resolve "@botname" suffixes.
func (c *Channel) BotUsername() string {
	if c.cfg.BotUsername != "" {
		return c.cfg.BotUsername
	}
	return c.bot.Username()
}
