package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBarkBody keeps a failure summary inside the APNs payload limit.
const maxBarkBody = 3000

// BarkNotifier pushes boot failure summaries to a Bark device.
type BarkNotifier struct {
	deviceURL string
	client    *http.Client
}

// barkPush is the JSON form of a Bark push. Failed boots are time sensitive so they
// break through focus modes, and all of them land in one group on the device.
type barkPush struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Group string `json:"group"`
	Level string `json:"level"`
}

// NewBarkNotifier creates a Bark notifier for a device URL of the form
// https://api.day.app/<key>.
func NewBarkNotifier(deviceURL string) (*BarkNotifier, error) {
	deviceURL = strings.TrimRight(strings.TrimSpace(deviceURL), "/")
	if deviceURL == "" {
		return nil, fmt.Errorf("bark url is empty")
	}
	if _, err := url.Parse(deviceURL); err != nil {
		return nil, fmt.Errorf("bark url: %w", err)
	}
	return &BarkNotifier{
		deviceURL: deviceURL,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send delivers one summary. A body beyond the payload limit is cut at a line
// boundary and the omitted stage count is appended.
func (b *BarkNotifier) Send(ctx context.Context, title, body string) error {
	payload, err := json.Marshal(barkPush{
		Title: title,
		Body:  clipSummary(body, maxBarkBody),
		Group: "rockinit",
		Level: "timeSensitive",
	})
	if err != nil {
		return fmt.Errorf("encode bark push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.deviceURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create bark request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark api returned status: %d", resp.StatusCode)
	}
	return nil
}

// clipSummary keeps whole "stage: error" lines while they fit in limit bytes.
func clipSummary(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	lines := strings.SplitAfter(body, "\n")
	var b strings.Builder
	kept := 0
	for _, line := range lines {
		if b.Len()+len(line) > limit-64 {
			break
		}
		b.WriteString(line)
		kept++
	}
	if kept == 0 {
		b.WriteString(body[:limit-64])
		b.WriteString("\n")
		kept = 1
	}
	omitted := 0
	for _, line := range lines[kept:] {
		if strings.TrimSpace(line) != "" {
			omitted++
		}
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "(%d more failed stage(s) not shown)\n", omitted)
	}
	return b.String()
}
