package internal

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServeWS upgrades the request and hands the connection to the relay.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	if s.connLimiter != nil && !s.connLimiter.Allow(s.clientIP(request)) {
		http.Error(writer, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error from %s: %v", request.RemoteAddr, err)
		return
	}
	go s.handleConnection(conn, request.RemoteAddr)
}

type readResult struct {
	payload []byte
	err     error
}

// handleConnection runs the connect sequence: optional register handshake,
// client id + history replay down the raw connection, then registration with
// the hub and the pump goroutines. The writePump only starts after the
// replay so nothing interleaves with it.
//
// The handshake cannot use a read deadline: gorilla treats read errors as
// permanent on the connection. Instead the first read runs in its own
// goroutine and we wait on it with a timer; if the peer is silent we assign
// a fresh id and the pending read is consumed later by readPump.
func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	client := newClient(s, conn, remote)

	firstRead := make(chan readResult, 1)
	go func() {
		_, payload, err := conn.ReadMessage()
		firstRead <- readResult{payload: payload, err: err}
	}()

	var leftover []byte
	timer := time.NewTimer(s.handshakeWait)
	select {
	case result := <-firstRead:
		timer.Stop()
		if result.err != nil {
			log.Printf("handshake with %s failed: %v", remote, result.err)
			_ = conn.Close()
			return
		}
		var reg RegisterMessage
		if err := json.Unmarshal(result.payload, &reg); err == nil && reg.Type == TypeRegister {
			// reconnecting client reclaims its previous id
			client.id = reg.ClientID
		} else {
			// not a register message; dispatch it normally once the
			// client is wired up
			leftover = result.payload
		}
	case <-timer.C:
		// silent client, the pending read is handed to readPump
		client.pending = firstRead
	}
	if client.id == "" {
		client.id = uuid.NewString()
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, mustMarshal(ClientIDMessage{Type: TypeClientID, ClientID: client.id})); err != nil {
		_ = conn.Close()
		return
	}
	if backlog := s.history.Snapshot(); len(backlog) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, mustMarshal(HistoryMessage{Type: TypeHistory, Messages: backlog})); err != nil {
			_ = conn.Close()
			return
		}
	}

	client.state = stateConnected
	s.hub.register <- client
	go client.writePump()

	if leftover != nil {
		client.dispatch(leftover)
	}
	client.readPump()
}
