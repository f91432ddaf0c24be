package internal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newRelay(t *testing.T) (*Server, string) {
	t.Helper()
	server := NewServer(ServerOptions{
		HandshakeWait: 100 * time.Millisecond,
		ConnBurst:     -1, // disable the limiter, tests reconnect aggressively
	})
	ts := httptest.NewServer(http.HandlerFunc(server.ServeWS))
	t.Cleanup(ts.Close)
	return server, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// dialRegistered connects and immediately sends a register message so the
// server does not sit out the handshake wait.
func dialRegistered(t *testing.T, wsURL, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, mustMarshal(RegisterMessage{Type: TypeRegister, ClientID: clientID})); err != nil {
		t.Fatalf("register: %v", err)
	}
	return conn
}

// awaitType reads until a payload of the wanted type arrives, skipping
// everything else (presence updates mostly).
func awaitType(t *testing.T, conn *websocket.Conn, want string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if kind, ok := Classify(payload); ok && kind == want {
			return payload
		}
	}
}

// expectOnly asserts that for the next window only messages of the allowed
// types arrive. A read timeout ends the window and passes.
func expectOnly(t *testing.T, conn *websocket.Conn, allowed ...string) {
	t.Helper()
	deadline := time.Now().Add(300 * time.Millisecond)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		kind, _ := Classify(payload)
		permitted := false
		for _, a := range allowed {
			if kind == a {
				permitted = true
			}
		}
		if !permitted {
			t.Fatalf("unexpected %q message: %s", kind, payload)
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestClientIDAssignedAndReclaimed(t *testing.T) {
	_, wsURL := newRelay(t)

	// silent client: the server waits out the handshake and assigns an id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var assigned ClientIDMessage
	if err := json.Unmarshal(awaitType(t, conn, TypeClientID), &assigned); err != nil {
		t.Fatalf("unmarshal client_id: %v", err)
	}
	if assigned.ClientID == "" {
		t.Fatalf("expected a generated client id")
	}

	// reconnecting client reclaims the id it presents
	reconn := dialRegistered(t, wsURL, "returning-client")
	var reclaimed ClientIDMessage
	if err := json.Unmarshal(awaitType(t, reconn, TypeClientID), &reclaimed); err != nil {
		t.Fatalf("unmarshal client_id: %v", err)
	}
	if reclaimed.ClientID != "returning-client" {
		t.Fatalf("expected reclaimed id, got %q", reclaimed.ClientID)
	}
}

func TestBroadcastReachesOthersNotSender(t *testing.T) {
	_, wsURL := newRelay(t)
	sender := dialRegistered(t, wsURL, "alice")
	receiver := dialRegistered(t, wsURL, "bob")
	awaitType(t, sender, TypeClientID)
	awaitType(t, receiver, TypeClientID)

	payload := []byte(`{"type":"text","content":"hello lan","senderName":"alice","timestamp":"2026-03-01T12:00:00Z","extra":"survives"}`)
	if err := sender.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := awaitType(t, receiver, TypeText)
	if string(got) != string(payload) {
		t.Fatalf("relay not verbatim:\n got %s\nwant %s", got, payload)
	}

	// the sender must not get its own message back
	expectOnly(t, sender, TypeOnlineCount)
}

func TestHistoryReplayOnConnect(t *testing.T) {
	server, wsURL := newRelay(t)
	first := dialRegistered(t, wsURL, "alice")
	awaitType(t, first, TypeClientID)

	textPayload := []byte(`{"type":"text","content":"for the record","senderName":"alice","timestamp":"2026-03-01T12:00:00Z"}`)
	filePayload := mustMarshal(FileMessage{
		Type:       TypeFile,
		Filename:   "notes.txt",
		Filesize:   11,
		Content:    "aGVsbG8gbGFu",
		SenderName: "alice",
		Timestamp:  "2026-03-01T12:00:01Z",
	})
	if err := first.WriteMessage(websocket.TextMessage, textPayload); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if err := first.WriteMessage(websocket.TextMessage, filePayload); err != nil {
		t.Fatalf("send file: %v", err)
	}
	waitFor(t, func() bool { return server.History().Len() == 2 }, "history to retain both messages")

	second := dialRegistered(t, wsURL, "bob")
	awaitType(t, second, TypeClientID)
	var history HistoryMessage
	if err := json.Unmarshal(awaitType(t, second, TypeHistory), &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history.Messages))
	}
	if string(history.Messages[0]) != string(textPayload) {
		t.Fatalf("text entry not verbatim: %s", history.Messages[0])
	}
	var replayedFile FileMessage
	if err := json.Unmarshal(history.Messages[1], &replayedFile); err != nil {
		t.Fatalf("unmarshal file entry: %v", err)
	}
	if replayedFile.Content != "" {
		t.Fatalf("file content should be stripped from history")
	}
	if replayedFile.Note == "" || replayedFile.Filename != "notes.txt" {
		t.Fatalf("file metadata mangled: %+v", replayedFile)
	}
}

func TestPresenceFollowsMembership(t *testing.T) {
	_, wsURL := newRelay(t)
	observer := dialRegistered(t, wsURL, "alice")
	awaitType(t, observer, TypeClientID)

	other := dialRegistered(t, wsURL, "bob")
	awaitType(t, other, TypeClientID)

	waitForCount := func(want int) {
		deadline := time.Now().Add(2 * time.Second)
		for {
			_ = observer.SetReadDeadline(deadline)
			_, payload, err := observer.ReadMessage()
			if err != nil {
				t.Fatalf("waiting for online_count %d: %v", want, err)
			}
			var count OnlineCountMessage
			if kind, _ := Classify(payload); kind == TypeOnlineCount {
				if err := json.Unmarshal(payload, &count); err == nil && count.Count == want {
					return
				}
			}
		}
	}
	waitForCount(2)

	_ = other.Close()
	waitForCount(1)
}

func TestMalformedPayloadKeepsConnectionOpen(t *testing.T) {
	_, wsURL := newRelay(t)
	sender := dialRegistered(t, wsURL, "alice")
	receiver := dialRegistered(t, wsURL, "bob")
	awaitType(t, sender, TypeClientID)
	awaitType(t, receiver, TypeClientID)

	if err := sender.WriteMessage(websocket.TextMessage, []byte("this is not json")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	payload := []byte(`{"type":"text","content":"still here","senderName":"alice","timestamp":"2026-03-01T12:00:00Z"}`)
	if err := sender.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("send after garbage: %v", err)
	}
	got := awaitType(t, receiver, TypeText)
	if string(got) != string(payload) {
		t.Fatalf("connection did not survive malformed payload: %s", got)
	}
}

func TestChunksRelayedButNeverRetained(t *testing.T) {
	server, wsURL := newRelay(t)
	sender := dialRegistered(t, wsURL, "alice")
	receiver := dialRegistered(t, wsURL, "bob")
	awaitType(t, sender, TypeClientID)
	awaitType(t, receiver, TypeClientID)

	chunk := mustMarshal(ChunkMessage{
		Type:        TypeFileChunk,
		FileID:      "transfer-1",
		Filename:    "big.bin",
		Filesize:    1 << 20,
		Chunk:       "QUJDREVG",
		ChunkIndex:  0,
		TotalChunks: 16,
		SenderName:  "alice",
	})
	if err := sender.WriteMessage(websocket.TextMessage, chunk); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	got := awaitType(t, receiver, TypeFileChunk)
	if string(got) != string(chunk) {
		t.Fatalf("chunk not relayed verbatim: %s", got)
	}
	if server.History().Len() != 0 {
		t.Fatalf("chunks must never be retained, history has %d entries", server.History().Len())
	}
}

func TestAnomalousChunkStillRelayed(t *testing.T) {
	_, wsURL := newRelay(t)
	sender := dialRegistered(t, wsURL, "alice")
	receiver := dialRegistered(t, wsURL, "bob")
	awaitType(t, sender, TypeClientID)
	awaitType(t, receiver, TypeClientID)

	// declares 512 chunks but indexes past the end; the relay forwards it
	// anyway, reassembly policy belongs to receivers
	chunk := mustMarshal(ChunkMessage{
		Type:        TypeFileChunk,
		FileID:      "transfer-2",
		Filename:    "big.bin",
		Chunk:       "QUJD",
		ChunkIndex:  512,
		TotalChunks: 512,
		SenderName:  "alice",
	})
	if err := sender.WriteMessage(websocket.TextMessage, chunk); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	got := awaitType(t, receiver, TypeFileChunk)
	if string(got) != string(chunk) {
		t.Fatalf("anomalous chunk not relayed verbatim: %s", got)
	}
}

func TestClientSentOnlineCountIgnored(t *testing.T) {
	_, wsURL := newRelay(t)
	spoofer := dialRegistered(t, wsURL, "mallory")
	observer := dialRegistered(t, wsURL, "alice")
	awaitType(t, spoofer, TypeClientID)
	awaitType(t, observer, TypeClientID)

	if err := spoofer.WriteMessage(websocket.TextMessage, mustMarshal(OnlineCountMessage{Type: TypeOnlineCount, Count: 999})); err != nil {
		t.Fatalf("send spoofed count: %v", err)
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for {
		_ = observer.SetReadDeadline(deadline)
		_, payload, err := observer.ReadMessage()
		if err != nil {
			return // nothing spoofed came through
		}
		var count OnlineCountMessage
		if kind, _ := Classify(payload); kind == TypeOnlineCount {
			if err := json.Unmarshal(payload, &count); err == nil && count.Count == 999 {
				t.Fatalf("spoofed online_count relayed")
			}
		}
	}
}

func TestServeWSRateLimitsUpgrades(t *testing.T) {
	server := NewServer(ServerOptions{
		HandshakeWait: 100 * time.Millisecond,
		ConnBurst:     1,
		ConnWindow:    time.Minute,
	})
	ts := httptest.NewServer(http.HandlerFunc(server.ServeWS))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("second dial should have been limited")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %+v", resp)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server, wsURL := newRelay(t)
	conn := dialRegistered(t, wsURL, "alice")
	awaitType(t, conn, TypeClientID)
	waitFor(t, func() bool { return server.Hub().Count() == 1 }, "hub registration")
	if ids := server.Hub().IDs(); len(ids) != 1 || ids[0] != "alice" {
		t.Fatalf("unexpected registered ids: %v", ids)
	}

	rec := httptest.NewRecorder()
	server.HandleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	var health struct {
		Status string `json:"status"`
		Online int    `json:"online"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("unmarshal healthz: %v", err)
	}
	if health.Status != "ok" || health.Online != 1 {
		t.Fatalf("unexpected healthz body: %+v", health)
	}

	rec = httptest.NewRecorder()
	server.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	var metrics map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal metrics: %v", err)
	}
	if metrics["active_connections"] != 1 {
		t.Fatalf("expected 1 active connection, got %d", metrics["active_connections"])
	}
}
