package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// JournalEntry records one applied sync payload.
type JournalEntry struct {
	Object uint64
	SyncID uint64
	Flags  uint32
	Size   int
}

// JournalBatch is the journal record of one sync pass. Payloads is the lz4
// stream built by PayloadEncoder, nil when payload capture is off.
type JournalBatch struct {
	Frame    uint64
	Entries  []JournalEntry
	Bytes    int
	Digest   [DigestSize]byte
	Payloads []byte
}

type SyncJournalRepo struct {
	db *DB
}

func NewSyncJournalRepo(db *DB) *SyncJournalRepo {
	return &SyncJournalRepo{db: db}
}

// Append writes a run of batches in a single transaction. Either all of them
// are stored or none.
func (r *SyncJournalRepo) Append(ctx context.Context, batches []JournalBatch) error {
	if len(batches) == 0 {
		return nil
	}
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		for _, b := range batches {
			if err := appendBatch(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

func appendBatch(ctx context.Context, tx pgx.Tx, b JournalBatch) error {
	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO sync_batches (frame, entries, bytes, digest, payloads)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		int64(b.Frame), len(b.Entries), b.Bytes, b.Digest[:], b.Payloads,
	).Scan(&id); err != nil {
		return fmt.Errorf("insert batch %d: %w", b.Frame, err)
	}

	rows := make([][]any, len(b.Entries))
	for i, e := range b.Entries {
		rows[i] = []any{id, i, int64(e.Object), int64(e.SyncID), int64(e.Flags), e.Size}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"sync_entries"},
		[]string{"batch_id", "seq", "object_id", "sync_id", "flags", "size"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy entries %d: %w", b.Frame, err)
	}
	return nil
}

// LastFrame returns the newest journaled frame, or -1 for an empty journal.
func (r *SyncJournalRepo) LastFrame(ctx context.Context) (int64, error) {
	var frame int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(frame), -1) FROM sync_batches`,
	).Scan(&frame)
	if err != nil {
		return 0, fmt.Errorf("journal last frame: %w", err)
	}
	return frame, nil
}

// Prune deletes batches older than keepFrom.
func (r *SyncJournalRepo) Prune(ctx context.Context, keepFrom uint64) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM sync_batches WHERE frame < $1`, int64(keepFrom),
	)
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
