package embodiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"el-professor/server/internal/config"
	"el-professor/server/internal/model"
)

type captured struct {
	path string
	body map[string]any
}

func daemon(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var calls []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, captured{path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), calls...)
	}
}

func TestClientSendsActions(t *testing.T) {
	server, calls := daemon(t, http.StatusOK)
	c := NewClient(config.EmbodimentConfig{BaseURL: server.URL + "/", Timeout: time.Second}, nil)
	ctx := context.Background()

	if err := c.PlayEmotion(ctx, model.EmotionCue{Polarity: model.PolarityPositive, Emotion: "happy"}); err != nil {
		t.Fatalf("play emotion: %v", err)
	}
	if err := c.SetHeadTracking(ctx, false); err != nil {
		t.Fatalf("head tracking: %v", err)
	}
	if err := c.MoveHead(ctx, DirectionLeft); err != nil {
		t.Fatalf("move head: %v", err)
	}
	if err := c.SetSpeaking(ctx, true); err != nil {
		t.Fatalf("speaking: %v", err)
	}

	got := calls()
	if len(got) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(got))
	}
	if got[0].path != "/api/emotions/play" || got[0].body["emotion"] != "happy" || got[0].body["polarity"] != "positive" {
		t.Fatalf("unexpected emotion call: %+v", got[0])
	}
	if got[1].path != "/api/head-tracking" || got[1].body["enabled"] != false {
		t.Fatalf("unexpected tracking call: %+v", got[1])
	}
	if got[2].path != "/api/head/goto" || got[2].body["yaw_deg"] != float64(40) {
		t.Fatalf("unexpected move call: %+v", got[2])
	}
	// 说话姿态走独立的接口，不碰追踪偏好
	if got[3].path != "/api/speaking" || got[3].body["speaking"] != true {
		t.Fatalf("unexpected speaking call: %+v", got[3])
	}
}

func TestClientReportsDaemonErrors(t *testing.T) {
	server, _ := daemon(t, http.StatusServiceUnavailable)
	c := NewClient(config.EmbodimentConfig{BaseURL: server.URL}, nil)

	if err := c.SetHeadTracking(context.Background(), true); err == nil {
		t.Fatalf("expected daemon error")
	}
	if err := c.MoveHead(context.Background(), "sideways"); err == nil {
		t.Fatalf("expected unknown direction error")
	}
}

func TestNewSelectsMode(t *testing.T) {
	cases := []struct {
		mode string
		ok   bool
	}{
		{"http", true}, {"log", true}, {"", true}, {"none", true}, {"telepathy", false},
	}
	for _, c := range cases {
		body, err := New(config.EmbodimentConfig{Mode: c.mode, BaseURL: "http://127.0.0.1:1"}, nil)
		if c.ok && (err != nil || body == nil) {
			t.Fatalf("mode %q: unexpected error %v", c.mode, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("mode %q: expected error", c.mode)
		}
	}
}

func TestPoseForDirections(t *testing.T) {
	for _, d := range Directions() {
		if _, err := PoseFor(d); err != nil {
			t.Fatalf("direction %s: %v", d, err)
		}
	}
	if p, _ := PoseFor("UP"); p.PitchDeg != -30 {
		t.Fatalf("expected case-insensitive lookup, got %+v", p)
	}
	if err := NewLogBody(nil).MoveHead(context.Background(), "behind"); err == nil {
		t.Fatalf("expected unknown direction error")
	}
}
