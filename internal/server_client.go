package internal

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	sendQueueSize = 256
)

// connState tracks where a connection is in its lifecycle. closed is
// terminal; any transport error jumps straight there.
type connState int

const (
	stateConnecting connState = iota
	stateConnected
	stateClosing
	stateClosed
)

// Client wraps a single websocket connection and its buffered outbound
// queue. The server owns one Client per peer from handshake to disconnect.
type Client struct {
	id      string
	name    string // last senderName seen, for logs only
	remote  string
	conn    *websocket.Conn
	send    chan []byte
	server  *Server
	state   connState
	pending <-chan readResult // unconsumed handshake read, if the peer was silent
}

func newClient(server *Server, conn *websocket.Conn, remote string) *Client {
	return &Client{
		remote: remote,
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		server: server,
		state:  stateConnecting,
	}
}

func (client *Client) readPump() {
	defer func() {
		client.state = stateClosed
		client.server.hub.unregister <- client
		client.conn.Close()
	}()
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if client.pending != nil {
		result := <-client.pending
		if result.err != nil {
			client.state = stateClosing
			return
		}
		client.dispatch(result.payload)
	}
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// peer went away or the socket broke; deferred cleanup
			// unregisters us and the rest of the room is unaffected.
			client.state = stateClosing
			break
		}
		client.dispatch(payload)
	}
}

// dispatch classifies one inbound payload and routes it. Malformed input is
// dropped with a log line; the connection stays open.
func (client *Client) dispatch(payload []byte) {
	kind, ok := Classify(payload)
	if !ok {
		client.server.metrics.IncMalformed()
		log.Printf("client %s: undecodable payload dropped (%d bytes)", client.id, len(payload))
		return
	}
	switch kind {
	case TypeText:
		client.noteSender(payload)
		if entry, ok := historyCopy(TypeText, payload); ok {
			client.server.history.Append(entry)
		}
		client.server.metrics.IncText()
		client.server.hub.Broadcast(client, payload)

	case TypeFile:
		client.noteSender(payload)
		if entry, ok := historyCopy(TypeFile, payload); ok {
			client.server.history.Append(entry)
		}
		client.server.metrics.IncFile()
		client.server.hub.Broadcast(client, payload)

	case TypeFileChunk:
		var chunk ChunkMessage
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// undecodable as a chunk but still tagged as one; forward
			// anyway, receivers decide what to do with it.
			log.Printf("client %s: malformed chunk relayed as-is: %v", client.id, err)
		} else if client.server.transfers.Observe(chunk) == RelayForwardAnomalous {
			log.Printf("client %s: anomalous chunk for %s (index %d of %d)",
				client.id, chunk.FileID, chunk.ChunkIndex, chunk.TotalChunks)
		}
		client.server.metrics.IncChunk()
		client.server.hub.Broadcast(client, payload)

	case TypeOnlineCount:
		// presence is server-authoritative; a client claiming it is ignored
		log.Printf("client %s: ignored client-sent online_count", client.id)

	case TypeRegister:
		// registration is only meaningful as the first payload

	default:
		log.Printf("client %s: unknown message type %q dropped", client.id, kind)
	}
}

// noteSender remembers the display name a client last attached to a message.
// The name is advisory: the server trusts it, never verifies it.
func (client *Client) noteSender(payload []byte) {
	var probe struct {
		SenderName string `json:"senderName"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.SenderName != "" {
		client.name = probe.SenderName
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
