package internal

import (
	"testing"
	"time"
)

func chunkFor(fileID string, index, total int) ChunkMessage {
	return ChunkMessage{
		Type:        TypeFileChunk,
		FileID:      fileID,
		Filename:    "big.bin",
		Filesize:    1 << 20,
		Chunk:       "QUJD",
		ChunkIndex:  index,
		TotalChunks: total,
		SenderName:  "dave",
	}
}

func TestTransferTableCompletesAndReleases(t *testing.T) {
	table := NewTransferTable(time.Minute)
	for i := 0; i < 4; i++ {
		if action := table.Observe(chunkFor("f1", i, 4)); action != RelayForward {
			t.Fatalf("chunk %d: unexpected action %v", i, action)
		}
	}
	if table.Active() != 0 {
		t.Fatalf("completed transfer still tracked: %d active", table.Active())
	}
}

func TestTransferTableFlagsAnomalousChunks(t *testing.T) {
	table := NewTransferTable(time.Minute)
	if action := table.Observe(chunkFor("f2", 5, 4)); action != RelayForwardAnomalous {
		t.Fatalf("index out of range should be anomalous, got %v", action)
	}
	if action := table.Observe(chunkFor("f3", 0, 0)); action != RelayForwardAnomalous {
		t.Fatalf("non-positive total should be anomalous, got %v", action)
	}
	if action := table.Observe(chunkFor("f4", -1, 4)); action != RelayForwardAnomalous {
		t.Fatalf("negative index should be anomalous, got %v", action)
	}
}

func TestTransferTableSweepsAbandoned(t *testing.T) {
	table := NewTransferTable(time.Minute)
	table.Observe(chunkFor("f5", 0, 100))
	table.Observe(chunkFor("f6", 0, 100))
	if table.Active() != 2 {
		t.Fatalf("expected 2 active transfers, got %d", table.Active())
	}
	if dropped := table.Sweep(time.Now()); dropped != 0 {
		t.Fatalf("fresh transfers swept: %d", dropped)
	}
	if dropped := table.Sweep(time.Now().Add(2 * time.Minute)); dropped != 2 {
		t.Fatalf("expected 2 swept, got %d", dropped)
	}
	if table.Active() != 0 {
		t.Fatalf("expected empty table, got %d", table.Active())
	}
}
