package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"montage/internal/config"
)

const userAgent = "montage/0.1"

// Service is the notification surface used by the composer.
type Service interface {
	BatchStarted(ctx context.Context, tasks int) error
	BatchCompleted(ctx context.Context, done, failed int, elapsed time.Duration) error
	TaskFailed(ctx context.Context, taskID, reason string) error
	Test(ctx context.Context) error
}

// NewService builds an ntfy-backed notifier, or a no-op one when
// notifications.ntfy_topic is empty.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
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
}

func (n *ntfyService) BatchStarted(ctx context.Context, tasks int) error {
	return n.send(ctx, payload{
		title:   "Montage - Batch Started",
		message: fmt.Sprintf("Composing %d task(s)", tasks),
		tags:    []string{"montage", "batch", "started"},
	})
}

func (n *ntfyService) BatchCompleted(ctx context.Context, done, failed int, elapsed time.Duration) error {
	elapsed = elapsed.Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	data := payload{
		title:   "Montage - Batch Complete",
		message: fmt.Sprintf("%d composition(s) written in %s", done, elapsed),
		tags:    []string{"montage", "batch", "completed"},
	}
	if failed > 0 {
		data.title = "Montage - Batch Complete (with errors)"
		data.message = fmt.Sprintf("%d succeeded, %d failed in %s", done, failed, elapsed)
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TaskFailed(ctx context.Context, taskID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return n.send(ctx, payload{
		title:   "Montage - Task Failed",
		message: fmt.Sprintf("Task %s failed: %s", strings.TrimSpace(taskID), reason),
		tags:    []string{"montage", "task", "failed"},
	})
}

func (n *ntfyService) Test(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Montage - Test",
		message:  "Notification system test",
		tags:     []string{"montage", "test"},
		priority: "low",
	})
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

func (noopService) BatchStarted(context.Context, int) error                       { return nil }
func (noopService) BatchCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) TaskFailed(context.Context, string, string) error              { return nil }
func (noopService) Test(context.Context) error                                    { return nil }
