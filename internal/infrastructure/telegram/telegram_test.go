package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"NewsDigest/internal/domain"
)

type captured struct {
	path    string
	form    map[string]string
	uploads map[string]string
}

func botServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{form: map[string]string{}, uploads: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			for name, files := range r.MultipartForm.File {
				f, _ := files[0].Open()
				data, _ := io.ReadAll(f)
				f.Close()
				got.uploads[name] = string(data)
			}
		} else if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for key := range r.Form {
			got.form[key] = r.Form.Get(key)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNotifierSendsMessage(t *testing.T) {
	t.Parallel()

	srv, got := botServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":7}}`)
	n := NewNotifier("token", "42")
	n.apiBase = srv.URL

	if err := n.Notify(context.Background(), "run done"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if got.path != "/bottoken/sendMessage" {
		t.Fatalf("unexpected path %s", got.path)
	}
	if got.form["chat_id"] != "42" || got.form["text"] != "run done" {
		t.Fatalf("unexpected form %v", got.form)
	}
}

func TestNotifierRequiresChat(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("token", "").Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublisherSendsRemoteVideo(t *testing.T) {
	t.Parallel()

	srv, got := botServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":1234}}`)
	p := NewPublisher("token", "@digest")
	p.apiBase = srv.URL

	id, err := p.Publish(context.Background(), "https://cdn.example.com/v.mp4", domain.PublishMetadata{
		Title:    "GPU launch",
		URL:      "https://example.com/gpu",
		Category: "it",
	})
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if id != "1234" {
		t.Fatalf("expected message id 1234, got %s", id)
	}
	if got.path != "/bottoken/sendVideo" || got.form["video"] != "https://cdn.example.com/v.mp4" {
		t.Fatalf("unexpected request %s %v", got.path, got.form)
	}
	if got.form["caption"] != "[it] GPU launch\nhttps://example.com/gpu" {
		t.Fatalf("unexpected caption %q", got.form["caption"])
	}
}

func TestPublisherUploadsLocalVideo(t *testing.T) {
	t.Parallel()

	srv, got := botServer(t, http.StatusOK, `{"ok":true,"result":{"message_id":9}}`)
	p := NewPublisher("token", "@digest")
	p.apiBase = srv.URL

	path := filepath.Join(t.TempDir(), "final.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := p.Publish(context.Background(), path, domain.PublishMetadata{Title: "t"}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if got.uploads["video"] != "video-bytes" || got.form["chat_id"] != "@digest" {
		t.Fatalf("unexpected upload %v %v", got.uploads, got.form)
	}
}

func TestPublisherClassifiesErrors(t *testing.T) {
	t.Parallel()

	srv, _ := botServer(t, http.StatusTooManyRequests, `{"ok":false,"description":"Too Many Requests"}`)
	p := NewPublisher("token", "@digest")
	p.apiBase = srv.URL
	_, err := p.Publish(context.Background(), "https://cdn.example.com/v.mp4", domain.PublishMetadata{})
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	srv, _ = botServer(t, http.StatusBadRequest, `{"ok":false,"description":"chat not found"}`)
	p.apiBase = srv.URL
	_, err = p.Publish(context.Background(), "https://cdn.example.com/v.mp4", domain.PublishMetadata{})
	if !errors.Is(err, domain.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	_, err = p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), domain.PublishMetadata{})
	if !errors.Is(err, domain.ErrPermanent) {
		t.Fatalf("expected permanent error for missing file, got %v", err)
	}
}
