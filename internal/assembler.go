package internal

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// AssembledFile is a completed chunked transfer, ready to be written out.
type AssembledFile struct {
	FileID     string
	Filename   string
	Filesize   int64
	SenderName string
	Data       []byte
}

type pendingTransfer struct {
	filename    string
	filesize    int64
	senderName  string
	totalChunks int
	chunks      map[int][]byte
	lastSeen    time.Time
}

// ChunkAssembler rebuilds files from chunk sequences on the receiving side.
// Chunks may arrive out of order; duplicates are ignored. The relay does not
// validate chunk declarations, so the assembler has to.
type ChunkAssembler struct {
	mu      sync.Mutex
	pending map[string]*pendingTransfer
}

func NewChunkAssembler() *ChunkAssembler {
	return &ChunkAssembler{pending: make(map[string]*pendingTransfer)}
}

// Add feeds one chunk in. It returns the assembled file once every index in
// [0, totalChunks) has been seen, nil while the transfer is still partial,
// and an error for chunks that cannot belong to a valid transfer (those are
// dropped without disturbing other transfers).
func (a *ChunkAssembler) Add(chunk ChunkMessage) (*AssembledFile, error) {
	if chunk.FileID == "" {
		return nil, fmt.Errorf("chunk without fileId")
	}
	if chunk.TotalChunks <= 0 {
		return nil, fmt.Errorf("transfer %s: invalid totalChunks %d", chunk.FileID, chunk.TotalChunks)
	}
	if chunk.ChunkIndex < 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		return nil, fmt.Errorf("transfer %s: chunk index %d out of range [0,%d)", chunk.FileID, chunk.ChunkIndex, chunk.TotalChunks)
	}
	data, err := base64.StdEncoding.DecodeString(chunk.Chunk)
	if err != nil {
		return nil, fmt.Errorf("transfer %s: chunk %d: %w", chunk.FileID, chunk.ChunkIndex, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	transfer, exists := a.pending[chunk.FileID]
	if !exists {
		transfer = &pendingTransfer{
			filename:    chunk.Filename,
			filesize:    chunk.Filesize,
			senderName:  chunk.SenderName,
			totalChunks: chunk.TotalChunks,
			chunks:      make(map[int][]byte, chunk.TotalChunks),
		}
		a.pending[chunk.FileID] = transfer
	}
	if chunk.TotalChunks != transfer.totalChunks {
		return nil, fmt.Errorf("transfer %s: totalChunks changed from %d to %d", chunk.FileID, transfer.totalChunks, chunk.TotalChunks)
	}
	if _, dup := transfer.chunks[chunk.ChunkIndex]; !dup {
		transfer.chunks[chunk.ChunkIndex] = data
	}
	transfer.lastSeen = time.Now()

	if len(transfer.chunks) < transfer.totalChunks {
		return nil, nil
	}

	assembled := make([]byte, 0, transfer.filesize)
	for i := 0; i < transfer.totalChunks; i++ {
		assembled = append(assembled, transfer.chunks[i]...)
	}
	delete(a.pending, chunk.FileID)
	return &AssembledFile{
		FileID:     chunk.FileID,
		Filename:   transfer.filename,
		Filesize:   transfer.filesize,
		SenderName: transfer.senderName,
		Data:       assembled,
	}, nil
}

// Pending reports how many transfers are partially received.
func (a *ChunkAssembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Expire drops transfers idle for longer than maxIdle and returns how many
// were abandoned.
func (a *ChunkAssembler) Expire(maxIdle time.Duration) int {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	dropped := 0
	for id, transfer := range a.pending {
		if now.Sub(transfer.lastSeen) > maxIdle {
			delete(a.pending, id)
			dropped++
		}
	}
	return dropped
}
