package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PG stores items in the call_memories table.
type PG struct {
	db *pgxpool.Pool
}

func NewPG(db *pgxpool.Pool) *PG {
	return &PG{db: db}
}

// Save upserts an item by id. A repeated save of the same content refreshes
// the metadata instead of inserting a second row.
func (p *PG) Save(ctx context.Context, item Item) error {
	if item.ID == "" {
		item.ID = ItemID(item.Content)
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO call_memories (id, content, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			metadata = EXCLUDED.metadata
	`, item.ID, item.Content, meta)
	return err
}

// DeleteOlderThan removes items created before the cutoff and reports how
// many rows were deleted.
func (p *PG) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		DELETE FROM call_memories WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
