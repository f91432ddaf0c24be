package internal

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	kind, ok := Classify([]byte(`{"type":"text","content":"hi"}`))
	if !ok || kind != TypeText {
		t.Fatalf("got %q ok=%v", kind, ok)
	}

	// unknown fields are tolerated
	kind, ok = Classify([]byte(`{"type":"file_chunk","fileId":"x","futureField":42}`))
	if !ok || kind != TypeFileChunk {
		t.Fatalf("got %q ok=%v", kind, ok)
	}

	// unknown type tags still classify; routing decides what to do
	kind, ok = Classify([]byte(`{"type":"hologram"}`))
	if !ok || kind != "hologram" {
		t.Fatalf("got %q ok=%v", kind, ok)
	}
}

func TestClassifyRejectsMalformed(t *testing.T) {
	cases := []string{
		`not json at all`,
		`[1,2,3]`,
		`{"content":"no type tag"}`,
		`{"type":7}`,
		``,
	}
	for _, payload := range cases {
		if _, ok := Classify([]byte(payload)); ok {
			t.Fatalf("expected rejection for %q", payload)
		}
	}
}

func TestHistoryCopyTextIsVerbatim(t *testing.T) {
	payload := []byte(`{"type":"text","content":"hello","senderName":"bob","timestamp":"2026-02-03T10:00:00Z","extra":"kept"}`)
	entry, ok := historyCopy(TypeText, payload)
	if !ok {
		t.Fatalf("expected text to be retained")
	}
	if string(entry) != string(payload) {
		t.Fatalf("text entry not byte-identical: %s", entry)
	}
}

func TestHistoryCopyFileStripsContent(t *testing.T) {
	payload := mustMarshal(FileMessage{
		Type:       TypeFile,
		Filename:   "photo.png",
		Filesize:   2048,
		Content:    "QUJD",
		SenderName: "carol",
		Timestamp:  "2026-02-03T10:00:00Z",
	})
	entry, ok := historyCopy(TypeFile, payload)
	if !ok {
		t.Fatalf("expected file to be retained")
	}
	var stored FileMessage
	if err := json.Unmarshal(entry, &stored); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if stored.Content != "" {
		t.Fatalf("content not stripped: %q", stored.Content)
	}
	if stored.Note != "File was shared during session" {
		t.Fatalf("unexpected note: %q", stored.Note)
	}
	if stored.Filename != "photo.png" || stored.Filesize != 2048 || stored.SenderName != "carol" {
		t.Fatalf("metadata lost: %+v", stored)
	}
}

func TestHistoryCopySkipsOtherKinds(t *testing.T) {
	for _, kind := range []string{TypeFileChunk, TypeOnlineCount, TypeRegister, "hologram"} {
		if _, ok := historyCopy(kind, []byte(`{"type":"`+kind+`"}`)); ok {
			t.Fatalf("kind %q should not be retained", kind)
		}
	}
}
