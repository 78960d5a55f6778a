package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashita-ai/hoken/internal/integrity"
	"github.com/ashita-ai/hoken/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	kind         TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	input_hash   TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	payload      BLOB NOT NULL,
	recorded_at  TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	chain_hash   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_records_subject ON audit_records (kind, subject_id);
CREATE TABLE IF NOT EXISTS audit_seals (
	seq_to      INTEGER PRIMARY KEY,
	seq_from    INTEGER NOT NULL,
	merkle_root TEXT NOT NULL,
	sealed_at   TEXT NOT NULL
);`

// ErrChainBroken is returned by Verify when a stored record or seal does not
// match its recomputed hash.
var ErrChainBroken = errors.New("audit: chain broken")

// Seal is a Merkle root over a contiguous range of chain hashes.
type Seal struct {
	SeqFrom    int64
	SeqTo      int64
	MerkleRoot string
	SealedAt   time.Time
}

// SQLiteSink is an append-only, hash-chained audit log in a SQLite file.
// Each record's chain hash covers its predecessor's, so any edit or deletion
// is detected by Verify.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens or creates the audit log at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("audit: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	// One writer keeps the chain linear and lets ":memory:" share a single database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Close releases the database.
func (s *SQLiteSink) Close() error { return s.db.Close() }

// Emit implements Sink.
func (s *SQLiteSink) Emit(ctx context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := lastChainHash(ctx, tx)
	if err != nil {
		return err
	}
	chain := integrity.ChainHash(prev, string(rec.Kind), rec.SubjectID, rec.InputHash, rec.PayloadHash, rec.RecordedAt)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_records (id, kind, subject_id, input_hash, payload_hash, payload, recorded_at, prev_hash, chain_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), string(rec.Kind), rec.SubjectID, rec.InputHash, rec.PayloadHash,
		[]byte(rec.Payload), rec.RecordedAt.UTC().Format(time.RFC3339Nano), prev, chain,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

func lastChainHash(ctx context.Context, tx *sql.Tx) (string, error) {
	var prev string
	err := tx.QueryRowContext(ctx, `SELECT chain_hash FROM audit_records ORDER BY seq DESC LIMIT 1`).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read chain head: %w", err)
	}
	return prev, nil
}

// Records returns the records for a subject in emission order. An empty kind
// matches every kind.
func (s *SQLiteSink) Records(ctx context.Context, kind model.AuditKind, subjectID string) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, subject_id, input_hash, payload_hash, payload, recorded_at
		 FROM audit_records
		 WHERE (? = '' OR kind = ?) AND subject_id = ?
		 ORDER BY seq`,
		string(kind), string(kind), subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditRecord
	for rows.Next() {
		var (
			rec             model.AuditRecord
			id, k, recorded string
			payload         []byte
		)
		if err := rows.Scan(&id, &k, &rec.SubjectID, &rec.InputHash, &rec.PayloadHash, &payload, &recorded); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("audit: parse record id: %w", err)
		}
		if rec.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("audit: parse recorded_at: %w", err)
		}
		rec.Kind = model.AuditKind(k)
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Seal computes a Merkle root over every record appended since the last seal
// and stores it. Returns a zero Seal if there is nothing new to seal.
func (s *SQLiteSink) Seal(ctx context.Context, at time.Time) (Seal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Seal{}, fmt.Errorf("audit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq_to), 0) + 1 FROM audit_seals`).Scan(&from); err != nil {
		return Seal{}, fmt.Errorf("audit: read last seal: %w", err)
	}
	seqs, hashes, err := chainHashesFrom(ctx, tx, from, -1)
	if err != nil {
		return Seal{}, err
	}
	if len(hashes) == 0 {
		return Seal{}, nil
	}
	seal := Seal{
		SeqFrom:    seqs[0],
		SeqTo:      seqs[len(seqs)-1],
		MerkleRoot: integrity.BuildMerkleRoot(hashes),
		SealedAt:   at.UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_seals (seq_to, seq_from, merkle_root, sealed_at) VALUES (?, ?, ?, ?)`,
		seal.SeqTo, seal.SeqFrom, seal.MerkleRoot, seal.SealedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Seal{}, fmt.Errorf("audit: insert seal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Seal{}, fmt.Errorf("audit: commit seal: %w", err)
	}
	return seal, nil
}

// chainHashesFrom returns seq numbers and chain hashes for seq >= from, up to
// and including to (to < 0 means no upper bound).
func chainHashesFrom(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, from, to int64) ([]int64, []string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT seq, chain_hash FROM audit_records WHERE seq >= ? AND (? < 0 OR seq <= ?) ORDER BY seq`,
		from, to, to,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: query chain: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var (
		seqs   []int64
		hashes []string
	)
	for rows.Next() {
		var (
			seq int64
			h   string
		)
		if err := rows.Scan(&seq, &h); err != nil {
			return nil, nil, fmt.Errorf("audit: scan chain: %w", err)
		}
		seqs = append(seqs, seq)
		hashes = append(hashes, h)
	}
	return seqs, hashes, rows.Err()
}

// Verify recomputes every chain hash, every payload hash and every seal.
// It returns the number of records checked, or ErrChainBroken naming the
// first mismatch.
func (s *SQLiteSink) Verify(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, subject_id, input_hash, payload_hash, payload, recorded_at, prev_hash, chain_hash
		 FROM audit_records ORDER BY seq`)
	if err != nil {
		return 0, fmt.Errorf("audit: query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		n    int
		prev string
	)
	for rows.Next() {
		var (
			seq                                      int64
			kind, subject, input, payloadHash, recAt string
			storedPrev, storedChain                  string
			payload                                  []byte
		)
		if err := rows.Scan(&seq, &kind, &subject, &input, &payloadHash, &payload, &recAt, &storedPrev, &storedChain); err != nil {
			return n, fmt.Errorf("audit: scan record: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, recAt)
		if err != nil {
			return n, fmt.Errorf("audit: parse recorded_at at seq %d: %w", seq, err)
		}
		if storedPrev != prev {
			return n, fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, seq)
		}
		if got := integrity.ChainHash(prev, kind, subject, input, payloadHash, at); got != storedChain {
			return n, fmt.Errorf("%w: seq %d chain hash mismatch", ErrChainBroken, seq)
		}
		if got := rawPayloadHash(payload); got != payloadHash {
			return n, fmt.Errorf("%w: seq %d payload hash mismatch", ErrChainBroken, seq)
		}
		prev = storedChain
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	// The pool holds a single connection; release it before the seal queries.
	_ = rows.Close()
	if err := s.verifySeals(ctx); err != nil {
		return n, err
	}
	return n, nil
}

func (s *SQLiteSink) verifySeals(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT seq_from, seq_to, merkle_root FROM audit_seals ORDER BY seq_to`)
	if err != nil {
		return fmt.Errorf("audit: query seals: %w", err)
	}
	var seals []Seal
	for rows.Next() {
		var sl Seal
		if err := rows.Scan(&sl.SeqFrom, &sl.SeqTo, &sl.MerkleRoot); err != nil {
			_ = rows.Close()
			return fmt.Errorf("audit: scan seal: %w", err)
		}
		seals = append(seals, sl)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, sl := range seals {
		_, hashes, err := chainHashesFrom(ctx, s.db, sl.SeqFrom, sl.SeqTo)
		if err != nil {
			return err
		}
		if integrity.BuildMerkleRoot(hashes) != sl.MerkleRoot {
			return fmt.Errorf("%w: seal %d-%d root mismatch", ErrChainBroken, sl.SeqFrom, sl.SeqTo)
		}
	}
	return nil
}

// rawPayloadHash hashes an already canonical payload. Canonicalizing again is
// idempotent, so this matches what NewRecord computed.
func rawPayloadHash(payload []byte) string {
	h, err := integrity.ContentHash(json.RawMessage(payload))
	if err != nil {
		return ""
	}
	return h
}
