package internal

import "encoding/json"

// Wire type tags. Every payload is a JSON object carrying a "type" field;
// everything else about the schema depends on the tag.
const (
	TypeText        = "text"
	TypeFile        = "file"
	TypeFileChunk   = "file_chunk"
	TypeOnlineCount = "online_count"
	TypeRegister    = "register"
	TypeClientID    = "client_id"
	TypeHistory     = "history"
)

// TextMessage is a plain chat line. Timestamp is ISO-8601, attached by the
// sending client; the server relays it untouched.
type TextMessage struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
	SenderPic  string `json:"senderPic,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// FileMessage carries a whole small file, base64 in Content. History keeps a
// metadata-only copy with Content stripped and Note set.
type FileMessage struct {
	Type       string `json:"type"`
	Filename   string `json:"filename"`
	Filesize   int64  `json:"filesize"`
	Content    string `json:"content,omitempty"`
	SenderName string `json:"senderName"`
	Timestamp  string `json:"timestamp"`
	Note       string `json:"note,omitempty"`
}

// ChunkMessage is one fragment of a large transfer. Chunks sharing a FileID
// belong to the same transfer; receivers reassemble by ChunkIndex.
type ChunkMessage struct {
	Type        string `json:"type"`
	FileID      string `json:"fileId"`
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
	Chunk       string `json:"chunk"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	SenderName  string `json:"senderName"`
}

// OnlineCountMessage is server-generated only. A client claiming this type is
// ignored.
type OnlineCountMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// RegisterMessage lets a reconnecting client reclaim its previous id as the
// first payload after the handshake.
type RegisterMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// ClientIDMessage tells a freshly connected client which id the server knows
// it by.
type ClientIDMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// HistoryMessage replays the retained backlog to a newly joined client.
// Entries are raw payloads so the replay stays byte-identical to the
// original broadcasts.
type HistoryMessage struct {
	Type     string            `json:"type"`
	Messages []json.RawMessage `json:"messages"`
}

type typeProbe struct {
	Type string `json:"type"`
}

// Classify extracts the type tag from a raw payload. It reports false for
// payloads that are not JSON objects or carry no string "type" field; extra
// and unknown fields are deliberately ignored so older servers keep working
// against newer clients.
func Classify(payload []byte) (string, bool) {
	var probe typeProbe
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	if probe.Type == "" {
		return "", false
	}
	return probe.Type, true
}

// historyCopy returns the payload to retain for a text or file broadcast.
// File content is dropped so the backlog stays bounded by message count, not
// by payload size; text passes through byte-identical.
func historyCopy(kind string, payload []byte) (json.RawMessage, bool) {
	switch kind {
	case TypeText:
		entry := make(json.RawMessage, len(payload))
		copy(entry, payload)
		return entry, true
	case TypeFile:
		var file FileMessage
		if err := json.Unmarshal(payload, &file); err != nil {
			return nil, false
		}
		file.Content = ""
		file.Note = "File was shared during session"
		entry, err := json.Marshal(file)
		if err != nil {
			return nil, false
		}
		return entry, true
	}
	return nil, false
}

func mustMarshal(v interface{}) []byte {
	encoded, err := json.Marshal(v)
	if err != nil {
		// all wire structs marshal cleanly; a failure here is a programming error
		panic(err)
	}
	return encoded
}
