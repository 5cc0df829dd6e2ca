package tts

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/aloudlabs/aloud-core/internal/bus"
	"github.com/aloudlabs/aloud-core/internal/config"
	"github.com/aloudlabs/aloud-core/internal/eventstore"
	"github.com/aloudlabs/aloud-core/internal/natsserver"
	"github.com/aloudlabs/aloud-core/internal/protocol"
	"github.com/nats-io/nats.go"
)

// newSpeechNode boots the full service path for one test: an embedded
// broker on a random port, a bus client dialed at it, a sqlite-backed
// event store, and the service wired to the given backends.
func newSpeechNode(t *testing.T, cfg config.SpeechConfig, be Backends) (*Service, *bus.Client, *eventstore.Store) {
	t.Helper()

	embedded, err := natsserver.Start(config.BusConfig{
		Embedded: true,
		Port:     -1,
		StoreDir: t.TempDir(),
	}, testLogger())
	if err != nil {
		t.Fatalf("start embedded bus: %v", err)
	}
	t.Cleanup(embedded.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{embedded.ClientURL()},
		ConnectTimeout: 5000,
	}, testLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	store, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, testLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(context.Background(), cfg, client, store, be, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start speech service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, client, store
}

// watchStatuses subscribes to a session's status subject. Flush guarantees
// the broker knows about the interest before the test publishes anything.
func watchStatuses(t *testing.T, client *bus.Client, sessionID string) *nats.Subscription {
	t.Helper()
	sub, err := client.Conn().SubscribeSync(statusSubject(sessionID))
	if err != nil {
		t.Fatalf("subscribe status subject: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush subscription: %v", err)
	}
	return sub
}

// awaitStatuses reads status events until one with the wanted state arrives.
func awaitStatuses(t *testing.T, sub *nats.Subscription, terminal string) []protocol.SpeakStatus {
	t.Helper()
	var out []protocol.SpeakStatus
	for {
		msg, err := sub.NextMsg(3 * time.Second)
		if err != nil {
			t.Fatalf("waiting for %q status: %v (saw %d events)", terminal, err, len(out))
		}
		var st protocol.SpeakStatus
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		out = append(out, st)
		if st.State == terminal {
			return out
		}
	}
}

func TestServiceHidesTranscript(t *testing.T) {
	platform := &MockPlatform{}
	svc, client, store := newSpeechNode(t, localConfig(), Backends{Platform: platform})
	if !svc.Healthy() {
		t.Fatal("service unhealthy after start")
	}
	sub := watchStatuses(t, client, "sess-hidden")

	say := protocol.SpeakRequest{
		SessionID: "sess-hidden",
		MessageID: "msg-1",
		Text:      "**secret** plans.",
		Markup:    true,
	}
	if err := client.PublishJSON(protocol.SubjectSpeechSay, say); err != nil {
		t.Fatalf("publish say: %v", err)
	}

	statuses := awaitStatuses(t, sub, "finished")
	wantStates := []string{"queued", "loading", "playing", "finished"}
	if len(statuses) != len(wantStates) {
		t.Fatalf("saw %d status events, want %d: %+v", len(statuses), len(wantStates), statuses)
	}
	for i, st := range statuses {
		if st.State != wantStates[i] {
			t.Fatalf("status %d = %q, want %q", i, st.State, wantStates[i])
		}
		if st.Text != "" {
			t.Fatalf("%q status leaked transcript %q", st.State, st.Text)
		}
		if st.SessionID != "sess-hidden" || st.MessageID != "msg-1" {
			t.Fatalf("status identity = %q/%q", st.SessionID, st.MessageID)
		}
	}

	// The engine still receives the stripped text; only the events omit it.
	spoken := platform.Spoken()
	if len(spoken) != 1 || spoken[0].Text != "secret plans." {
		t.Fatalf("spoken = %+v, want the stripped transcript", spoken)
	}

	var rows []eventstore.Transition
	waitFor(t, func() bool {
		rows, _ = store.SessionTimeline(context.Background(), "sess-hidden", 0)
		return len(rows) >= len(wantStates)
	}, "timeline rows")
	for _, row := range rows {
		if row.Text != "" {
			t.Fatalf("timeline row %q stores transcript %q", row.State, row.Text)
		}
	}
	if last := rows[len(rows)-1]; last.State != "finished" {
		t.Fatalf("last timeline row = %q, want finished", last.State)
	}
}

func TestServiceStatusCarriesTranscript(t *testing.T) {
	platform := &MockPlatform{}
	cfg := localConfig()
	cfg.ShowTranscript = true
	_, client, store := newSpeechNode(t, cfg, Backends{Platform: platform})
	sub := watchStatuses(t, client, "sess-open")

	say := protocol.SpeakRequest{SessionID: "sess-open", Text: "**secret** plans.", Markup: true}
	if err := client.PublishJSON(protocol.SubjectSpeechSay, say); err != nil {
		t.Fatalf("publish say: %v", err)
	}

	statuses := awaitStatuses(t, sub, "finished")
	for _, st := range statuses {
		if st.Text != "secret plans." {
			t.Fatalf("%q status text = %q, want the stripped transcript", st.State, st.Text)
		}
	}

	var rows []eventstore.Transition
	waitFor(t, func() bool {
		rows, _ = store.SessionTimeline(context.Background(), "sess-open", 0)
		return len(rows) >= len(statuses)
	}, "timeline rows")
	for _, row := range rows {
		if row.Text != "secret plans." {
			t.Fatalf("timeline row %q text = %q", row.State, row.Text)
		}
	}
}

func TestServiceCancelsByRequestID(t *testing.T) {
	platform := &MockPlatform{Gate: make(chan struct{})}
	_, client, store := newSpeechNode(t, localConfig(), Backends{Platform: platform})
	sub := watchStatuses(t, client, "sess-cancel")

	say := protocol.SpeakRequest{SessionID: "sess-cancel", Text: "never heard."}
	if err := client.PublishJSON(protocol.SubjectSpeechSay, say); err != nil {
		t.Fatalf("publish say: %v", err)
	}

	statuses := awaitStatuses(t, sub, "playing")
	reqID := statuses[len(statuses)-1].RequestID
	if reqID == "" {
		t.Fatalf("playing status carries no request id: %+v", statuses)
	}

	cancel := protocol.SpeakCancel{SessionID: "sess-cancel", RequestID: reqID}
	if err := client.PublishJSON(protocol.SubjectSpeechCancel, cancel); err != nil {
		t.Fatalf("publish cancel: %v", err)
	}

	statuses = awaitStatuses(t, sub, "cancelled")
	if last := statuses[len(statuses)-1]; last.RequestID != reqID {
		t.Fatalf("cancelled status for %q, want %q", last.RequestID, reqID)
	}
	if spoken := platform.Spoken(); len(spoken) != 0 {
		t.Fatalf("spoken = %+v after cancel, want nothing", spoken)
	}

	var rows []eventstore.Transition
	waitFor(t, func() bool {
		rows, _ = store.RequestTimeline(context.Background(), reqID)
		return len(rows) >= 4 && rows[len(rows)-1].State == "cancelled"
	}, "cancelled timeline row")
}