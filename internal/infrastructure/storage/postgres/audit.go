package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"stockcore/internal/domain/audit"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// Compile-time check that AuditService implements audit.Sink.
var _ audit.Sink = (*AuditService)(nil)

// AuditService persists audit records in sys_audit. Large payloads are
// zstd-compressed. Recording is best effort: callers log and discard
// errors rather than fail the guarded operation.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes, default 10KB
}

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024,
	}, nil
}

// Record stores one audit record.
func (s *AuditService) Record(ctx context.Context, rec audit.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payload := rec.Payload
	var compressed []byte
	algo := CompressionNone
	if len(payload) > s.compressThreshold {
		compressed = s.encoder.EncodeAll(payload, nil)
		payload = nil
		algo = CompressionZstd
	}

	sql := `
		INSERT INTO sys_audit (
			id, operation, entity_id, outcome, error_code, actor,
			payload, payload_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	// Audit never joins the caller's transaction: a rolled back
	// operation must still leave its failure record.
	ctx = WithoutTx(ctx)
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql,
		rec.ID, rec.Operation, rec.EntityID, rec.Outcome, rec.ErrorCode,
		rec.Actor, payload, compressed, algo, rec.CreatedAt,
	)
	return err
}

// History retrieves audit records for an entity, newest first.
func (s *AuditService) History(ctx context.Context, entityID any, limit int) ([]audit.Record, error) {
	sql := `
		SELECT id, operation, entity_id, outcome, error_code, actor,
			   payload, payload_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var rec audit.Record
		var compressed []byte
		var algo CompressionAlgo
		err := rows.Scan(
			&rec.ID, &rec.Operation, &rec.EntityID, &rec.Outcome, &rec.ErrorCode,
			&rec.Actor, &rec.Payload, &compressed, &algo, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if algo == CompressionZstd && len(compressed) > 0 {
			decompressed, err := s.decoder.DecodeAll(compressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress payload: %w", err)
			}
			rec.Payload = decompressed
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
