package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSessionEventStream(t *testing.T) {
	c := newTestAPI(t)
	root := c.login("root@example.com")
	guest := c.login("guest@example.com")

	resp, _ := c.do(http.MethodGet, "/api/audit/session-events/stream", nil, bearerHeader(guest.Tokens.AccessToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("guest stream: expected 403, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/audit/session-events/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+root.Tokens.AccessToken)
	stream, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", stream.StatusCode)
	}
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(stream.Body)
	if !lines.Scan() || !strings.HasPrefix(lines.Text(), ": stream started") {
		t.Fatalf("missing stream preamble: %q", lines.Text())
	}

	resp, env := c.do(http.MethodPost, "/api/audit/session-logs", map[string]any{
		"type": "tab_hidden", "session_id": guest.Session.ID,
	}, bearerHeader(guest.Tokens.AccessToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post session log: %d (%s)", resp.StatusCode, env.Error)
	}

	var gotEvent, gotData bool
	for lines.Scan() {
		line := lines.Text()
		if line == "event: tab_hidden" {
			gotEvent = true
			continue
		}
		if gotEvent && strings.HasPrefix(line, "data: ") {
			gotData = strings.Contains(line, `"user_id":"guest"`)
			break
		}
	}
	if !gotEvent || !gotData {
		t.Fatalf("streamed event not seen (event=%v data=%v, err=%v)", gotEvent, gotData, lines.Err())
	}
}
