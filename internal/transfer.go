package internal

import (
	"log"
	"sync"
	"time"
)

// RelayAction tells the caller how a chunk was judged. Either way the chunk
// is forwarded; the server never validates payload semantics, it only flags
// declarations that cannot be right.
type RelayAction int

const (
	RelayForward RelayAction = iota
	RelayForwardAnomalous
)

const DefaultTransferExpiry = 2 * time.Minute

// transferState is the per-fileId bookkeeping for one in-flight transfer.
// The server never buffers chunk data; it only counts what passed through.
type transferState struct {
	filename    string
	totalChunks int
	seen        map[int]struct{}
	lastSeen    time.Time
}

// TransferTable tracks in-flight chunked transfers for diagnostics and
// abandoned-transfer cleanup. Reassembly belongs to receiving clients, so an
// entry expiring here has no correctness impact on delivery.
type TransferTable struct {
	mu        sync.Mutex
	transfers map[string]*transferState
	expiry    time.Duration
}

func NewTransferTable(expiry time.Duration) *TransferTable {
	if expiry <= 0 {
		expiry = DefaultTransferExpiry
	}
	return &TransferTable{
		transfers: make(map[string]*transferState),
		expiry:    expiry,
	}
}

// Observe records one chunk against its transfer, creating the entry on the
// first chunk seen for that fileId. Chunks with an index outside
// [0, totalChunks) or a non-positive totalChunks are still relayed but
// reported as anomalous.
func (t *TransferTable) Observe(chunk ChunkMessage) RelayAction {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.transfers[chunk.FileID]
	if !exists {
		state = &transferState{
			filename:    chunk.Filename,
			totalChunks: chunk.TotalChunks,
			seen:        make(map[int]struct{}),
		}
		t.transfers[chunk.FileID] = state
	}
	state.seen[chunk.ChunkIndex] = struct{}{}
	state.lastSeen = time.Now()

	if chunk.TotalChunks <= 0 || chunk.ChunkIndex < 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		return RelayForwardAnomalous
	}
	if len(state.seen) >= state.totalChunks && state.totalChunks > 0 {
		// transfer looks complete; release the bookkeeping
		delete(t.transfers, chunk.FileID)
	}
	return RelayForward
}

// Active reports how many transfers currently have bookkeeping entries.
func (t *TransferTable) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.transfers)
}

// Sweep drops transfers that saw no chunk within the expiry window and
// returns how many were abandoned.
func (t *TransferTable) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for id, state := range t.transfers {
		if now.Sub(state.lastSeen) > t.expiry {
			log.Printf("transfer %s (%s) abandoned after %d chunks", id, state.filename, len(state.seen))
			delete(t.transfers, id)
			dropped++
		}
	}
	return dropped
}

// janitor periodically sweeps abandoned transfers until stop is closed.
func (t *TransferTable) janitor(stop <-chan struct{}) {
	ticker := time.NewTicker(t.expiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}
