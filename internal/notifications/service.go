package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardiolink/internal/config"
)

const userAgent = "Cardiolink/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifySessionStarted(ctx context.Context, sessionID string, fileCount int) error
	NotifySessionCompleted(ctx context.Context, sessionID string, linked, skipped, failed int, duration time.Duration) error
	NotifySessionFailed(ctx context.Context, sessionID, reason string) error
	NotifyLinkRegistered(ctx context.Context, deviceID, recordingDate string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		sessions: cfg.Notifications.Sessions,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	sessions bool
	errors   bool
}

func (n *ntfyService) NotifySessionStarted(ctx context.Context, sessionID string, fileCount int) error {
	if !n.sessions {
		return nil
	}
	data := payload{
		title:   "Cardiolink - Batch Started",
		message: fmt.Sprintf("Processing session %s with %d files", sessionID, fileCount),
		tags:    []string{"cardiolink", "session", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, sessionID string, linked, skipped, failed int, duration time.Duration) error {
	if !n.sessions {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title, message string
	if failed == 0 {
		title = "Cardiolink - Batch Complete"
		message = fmt.Sprintf("Session %s: %d linked, %d skipped in %s",
			sessionID, linked, skipped, duration)
	} else {
		title = "Cardiolink - Batch Complete (with errors)"
		message = fmt.Sprintf("Session %s: %d linked, %d skipped, %d failed in %s",
			sessionID, linked, skipped, failed, duration)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"cardiolink", "session", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionFailed(ctx context.Context, sessionID, reason string) error {
	if !n.sessions {
		return nil
	}
	data := payload{
		title:    "Cardiolink - Batch Failed",
		message:  fmt.Sprintf("Session %s failed: %s", sessionID, strings.TrimSpace(reason)),
		tags:     []string{"cardiolink", "session", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyLinkRegistered(ctx context.Context, deviceID, recordingDate string) error {
	if !n.sessions {
		return nil
	}
	data := payload{
		title:   "Cardiolink - Link Published",
		message: fmt.Sprintf("Recording %s %s is now reachable", deviceID, recordingDate),
		tags:    []string{"cardiolink", "link", "registered"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Cardiolink - Error",
		message:  builder.String(),
		tags:     []string{"cardiolink", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Cardiolink - Test",
		message:  "Notification system test",
		tags:     []string{"cardiolink", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifySessionStarted(context.Context, string, int) error { return nil }
func (noopService) NotifySessionCompleted(context.Context, string, int, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifySessionFailed(context.Context, string, string) error  { return nil }
func (noopService) NotifyLinkRegistered(context.Context, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error           { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
