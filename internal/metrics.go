package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics counts relay activity since process start.
type Metrics struct {
	texts       atomic.Uint64
	files       atomic.Uint64
	chunks      atomic.Uint64
	malformed   atomic.Uint64
	dropped     atomic.Uint64
	activeConns atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncText() {
	m.texts.Add(1)
}

func (m *Metrics) IncFile() {
	m.files.Add(1)
}

func (m *Metrics) IncChunk() {
	m.chunks.Add(1)
}

func (m *Metrics) IncMalformed() {
	m.malformed.Add(1)
}

func (m *Metrics) IncDropped() {
	m.dropped.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"texts_total":           m.texts.Load(),
		"files_total":           m.files.Load(),
		"chunks_total":          m.chunks.Load(),
		"malformed_total":       m.malformed.Load(),
		"dropped_clients_total": m.dropped.Load(),
		"active_connections":    m.activeConns.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
