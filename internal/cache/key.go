package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/textnorm"
)

// Key fingerprints a stage input. Text is normalized and map keys are sorted by encoding/json,
// so inputs differing only in formatting collide. domain.Ref values are compared verbatim.
func Key(stage domain.Stage, payload domain.Payload) (string, error) {
	data, err := json.Marshal(struct {
		Stage   string `json:"stage"`
		Payload any    `json:"payload"`
	}{
		Stage:   string(stage),
		Payload: canonicalize(map[string]any(payload)),
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalize(v any) any {
	switch val := v.(type) {
	case string:
		return textnorm.Normalize(val)
	case domain.Ref:
		return string(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalize(item)
		}
		return out
	case domain.Payload:
		return canonicalize(map[string]any(val))
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = textnorm.Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = textnorm.Normalize(item)
		}
		return out
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
