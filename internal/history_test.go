package internal

import (
	"encoding/json"
	"fmt"
	"testing"
)

func payloadFor(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"type":"text","content":"msg %d","senderName":"alice","timestamp":"2026-01-01T00:00:00Z"}`, i))
}

func TestHistoryAppendAndSnapshot(t *testing.T) {
	history := NewHistory(10)
	for i := 0; i < 3; i++ {
		history.Append(payloadFor(i))
	}
	if history.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", history.Len())
	}
	snapshot := history.Snapshot()
	for i, entry := range snapshot {
		if string(entry) != string(payloadFor(i)) {
			t.Fatalf("entry %d: got %s", i, entry)
		}
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	const limit = 5
	history := NewHistory(limit)
	for i := 0; i < limit+3; i++ {
		history.Append(payloadFor(i))
	}
	if history.Len() != limit {
		t.Fatalf("expected %d entries after overflow, got %d", limit, history.Len())
	}
	snapshot := history.Snapshot()
	// oldest three evicted; snapshot starts at msg 3
	for i, entry := range snapshot {
		want := string(payloadFor(i + 3))
		if string(entry) != want {
			t.Fatalf("entry %d: got %s, want %s", i, entry, want)
		}
	}
}

func TestHistorySnapshotIsStable(t *testing.T) {
	history := NewHistory(2)
	history.Append(payloadFor(0))
	history.Append(payloadFor(1))
	snapshot := history.Snapshot()
	history.Append(payloadFor(2))
	history.Append(payloadFor(3))
	if string(snapshot[0]) != string(payloadFor(0)) || string(snapshot[1]) != string(payloadFor(1)) {
		t.Fatalf("snapshot mutated by later appends: %s, %s", snapshot[0], snapshot[1])
	}
}

func TestHistoryDefaultLimit(t *testing.T) {
	history := NewHistory(0)
	for i := 0; i < DefaultHistoryLimit+1; i++ {
		history.Append(payloadFor(i))
	}
	if history.Len() != DefaultHistoryLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultHistoryLimit, history.Len())
	}
}
