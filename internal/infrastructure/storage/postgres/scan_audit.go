package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"stockscan/internal/core/id"
	"stockscan/internal/domain/scan"
	"stockscan/pkg/logger"
)

// CompressionAlgo specifies the compression algorithm used for audit payloads.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const defaultFlushSize = 100

// ScanAudit persists scan attempts for one session, batched and compressed.
// It implements the engine's audit sink; a failed flush is logged and dropped
// rather than failing the scan that triggered it.
type ScanAudit struct {
	txManager *TxManager
	sessionID id.ID

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu        sync.Mutex
	buf       []scan.Attempt
	flushSize int
}

// NewScanAudit creates an audit sink for a session.
func NewScanAudit(txManager *TxManager, sessionID id.ID) (*ScanAudit, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ScanAudit{
		txManager: txManager,
		sessionID: sessionID,
		encoder:   encoder,
		decoder:   decoder,
		flushSize: defaultFlushSize,
	}, nil
}

// Record buffers one attempt, flushing a full batch to the database.
func (s *ScanAudit) Record(ctx context.Context, attempt scan.Attempt) {
	s.mu.Lock()
	s.buf = append(s.buf, attempt)
	full := len(s.buf) >= s.flushSize
	s.mu.Unlock()
	if full {
		if err := s.Flush(ctx); err != nil {
			logger.Error(ctx, "scan audit flush failed", "session_id", s.sessionID, "error", err)
		}
	}
}

// Flush writes the buffered attempts as one compressed batch row.
func (s *ScanAudit) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal attempts: %w", err)
	}
	compressed := s.encoder.EncodeAll(payload, nil)

	sql := `
		INSERT INTO scan_audit (
			id, session_id, attempts, compression_algo, attempt_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	querier := s.txManager.GetQuerier(ctx)
	_, err = querier.Exec(ctx, sql,
		id.New(), s.sessionID, compressed, CompressionZstd, len(batch), time.Now().UTC(),
	)
	return err
}

// SessionHistory reads back every attempt recorded for a session, newest
// batch first.
func (s *ScanAudit) SessionHistory(ctx context.Context, sessionID id.ID, limit int) ([]scan.Attempt, error) {
	sql := `
		SELECT attempts, compression_algo
		FROM scan_audit
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan audit: %w", err)
	}
	defer rows.Close()

	var out []scan.Attempt
	for rows.Next() {
		var payload []byte
		var algo CompressionAlgo
		if err := rows.Scan(&payload, &algo); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if algo == CompressionZstd {
			payload, err = s.decoder.DecodeAll(payload, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress attempts: %w", err)
			}
		}
		var batch []scan.Attempt
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal attempts: %w", err)
		}
		out = append(out, batch...)
	}
	return out, rows.Err()
}
