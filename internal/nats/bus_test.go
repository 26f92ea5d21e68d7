package nats

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/photo-hunt/internal/domain"
)

func TestSubject(t *testing.T) {
	tests := map[string]string{
		domain.EventGameWinner:         "photohunt.events.game.winner",
		domain.EventSubmissionReviewed: "photohunt.events.submission.reviewed",
		domain.EventLeaderboardUpdate:  "photohunt.events.leaderboard.update",
	}
	for name, want := range tests {
		if got := Subject("photohunt.events", name); got != want {
			t.Errorf("Subject(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDecodeSkipsOwnOrigin(t *testing.T) {
	b := &Bus{origin: "node-a", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	own, _ := json.Marshal(domain.EventEnvelope{Origin: "node-a", Event: domain.Event{Name: domain.EventGameStarted}})
	if _, ok := b.decode(own); ok {
		t.Error("own event should be dropped")
	}

	other, _ := json.Marshal(domain.EventEnvelope{Origin: "node-b", Event: domain.Event{Name: domain.EventGameStarted, Audience: domain.AudienceAll}})
	event, ok := b.decode(other)
	if !ok || event.Name != domain.EventGameStarted {
		t.Errorf("decode = %+v, %v", event, ok)
	}

	if _, ok := b.decode([]byte("garbage")); ok {
		t.Error("malformed data should be dropped")
	}
}
