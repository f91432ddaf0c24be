package internal

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// files up to this size travel as a single "file" message; larger ones
	// are split into chunks so no single frame gets unwieldy
	singleFileLimit = 256 * 1024
	// raw bytes per chunk before base64
	chunkSize = 64 * 1024
)

// clientSession wraps one websocket connection to the relay. Reads happen
// from the bubbletea read command chain; writes may come from several
// commands at once, hence the mutex.
type clientSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// dialRelay connects and announces the persisted client id so the relay
// recognizes a returning client.
func dialRelay(serverURL, clientID string) (*clientSession, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	conn, _, err := websocket.DefaultDialer.Dial(parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	session := &clientSession{conn: conn}
	if err := session.sendJSON(RegisterMessage{Type: TypeRegister, ClientID: clientID}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return session, nil
}

func (s *clientSession) sendJSON(v interface{}) error {
	payload := mustMarshal(v)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *clientSession) sendText(content, senderName, senderPic string) error {
	return s.sendJSON(TextMessage{
		Type:       TypeText,
		Content:    content,
		SenderName: senderName,
		SenderPic:  senderPic,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// sendFile shares a local file over the relay. Small files go out whole;
// larger ones are chunked under a fresh transfer id. Returns the number of
// chunks sent (zero for a whole-file send).
func (s *clientSession) sendFile(path, senderName string) (string, int64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, 0, err
	}
	filename := filepath.Base(path)
	size := int64(len(data))

	if size <= singleFileLimit {
		err := s.sendJSON(FileMessage{
			Type:       TypeFile,
			Filename:   filename,
			Filesize:   size,
			Content:    base64.StdEncoding.EncodeToString(data),
			SenderName: senderName,
			Timestamp:  time.Now().Format(time.RFC3339),
		})
		return filename, size, 0, err
	}

	fileID := uuid.NewString()
	totalChunks := int((size + chunkSize - 1) / chunkSize)
	for index := 0; index < totalChunks; index++ {
		start := index * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		err := s.sendJSON(ChunkMessage{
			Type:        TypeFileChunk,
			FileID:      fileID,
			Filename:    filename,
			Filesize:    size,
			Chunk:       base64.StdEncoding.EncodeToString(data[start:end]),
			ChunkIndex:  index,
			TotalChunks: totalChunks,
			SenderName:  senderName,
		})
		if err != nil {
			return filename, size, index, err
		}
	}
	return filename, size, totalChunks, nil
}

func (s *clientSession) close() {
	if s == nil || s.conn == nil {
		return
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = s.conn.Close()
}

// loadClientID reads the persisted client id, if any.
func loadClientID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// saveClientID persists the id the server assigned so reconnects keep it.
// Written via a temp file so a crash never leaves a truncated id behind.
func saveClientID(path, id string) error {
	if path == "" || id == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func defaultUsername() string {
	if user := os.Getenv("LANSHARE_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}
