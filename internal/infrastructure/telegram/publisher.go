package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Publisher posts composed videos to a Telegram channel.
type Publisher struct {
	bot
	channelID string
}

var _ ports.Publisher = (*Publisher)(nil)

// NewPublisher registers bot token and target channel.
func NewPublisher(botToken, channelID string) *Publisher {
	return &Publisher{
		bot:       newBot(botToken, 2*time.Minute),
		channelID: channelID,
	}
}

// Publish sends the composed video with a caption and returns the Telegram message id.
// Remote refs are passed by URL, local files are uploaded.
func (p *Publisher) Publish(ctx context.Context, composedRef string, meta domain.PublishMetadata) (string, error) {
	if p.channelID == "" {
		return "", domain.Permanent("telegram publish", errors.New("channel is not configured"))
	}

	caption := buildCaption(meta)
	if strings.HasPrefix(composedRef, "http://") || strings.HasPrefix(composedRef, "https://") {
		form := url.Values{}
		form.Set("chat_id", p.channelID)
		form.Set("video", composedRef)
		form.Set("caption", caption)
		return p.call(ctx, "sendVideo", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	}

	body, contentType, err := p.upload(composedRef, caption)
	if err != nil {
		return "", err
	}
	return p.call(ctx, "sendVideo", body, contentType)
}

func (p *Publisher) upload(path, caption string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", domain.Permanent("telegram publish", fmt.Errorf("open composed video: %w", err))
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", p.channelID); err != nil {
		return nil, "", domain.Permanent("telegram publish", err)
	}
	if err := w.WriteField("caption", caption); err != nil {
		return nil, "", domain.Permanent("telegram publish", err)
	}
	part, err := w.CreateFormFile("video", filepath.Base(path))
	if err != nil {
		return nil, "", domain.Permanent("telegram publish", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", domain.Permanent("telegram publish", fmt.Errorf("read composed video: %w", err))
	}
	if err := w.Close(); err != nil {
		return nil, "", domain.Permanent("telegram publish", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func buildCaption(meta domain.PublishMetadata) string {
	var b strings.Builder
	if meta.Category != "" {
		fmt.Fprintf(&b, "[%s] ", meta.Category)
	}
	b.WriteString(meta.Title)
	if meta.URL != "" {
		b.WriteString("\n")
		b.WriteString(meta.URL)
	}
	if meta.Source != "" {
		fmt.Fprintf(&b, "\nvia %s", meta.Source)
	}
	return b.String()
}
