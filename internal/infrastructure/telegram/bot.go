// Package telegram publishes composed videos and run summaries through the Telegram bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"NewsDigest/internal/domain"
)

const defaultAPIBase = "https://api.telegram.org"

// bot is the shared bot API transport.
type bot struct {
	apiBase  string
	botToken string
	client   *http.Client
}

func newBot(botToken string, timeout time.Duration) bot {
	return bot{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		client:   &http.Client{Timeout: timeout},
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// call invokes method and returns the id of the sent message.
func (b bot) call(ctx context.Context, method string, body io.Reader, contentType string) (string, error) {
	op := "telegram " + method
	if b.botToken == "" || b.client == nil {
		return "", domain.Permanent(op, errors.New("bot misconfigured"))
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(b.apiBase, "/"), b.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", domain.Permanent(op, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", domain.Transient(op, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	var decoded apiResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded)

	if resp.StatusCode != http.StatusOK || !decoded.OK {
		err := fmt.Errorf("telegram error: %s %s", resp.Status, decoded.Description)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", domain.Transient(op, err)
		}
		return "", domain.Permanent(op, err)
	}
	if decodeErr != nil {
		return "", domain.Permanent(op, fmt.Errorf("decode response: %w", decodeErr))
	}
	return strconv.FormatInt(decoded.Result.MessageID, 10), nil
}
