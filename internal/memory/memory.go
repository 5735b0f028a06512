package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Item is one stored piece of call content. The id is derived from the
// content, so saving the same text twice upserts instead of duplicating.
type Item struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ItemID returns the stable id for a piece of content.
func ItemID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NewItem builds an Item with its content-derived id.
func NewItem(content string, metadata map[string]string) Item {
	return Item{
		ID:       ItemID(content),
		Content:  content,
		Metadata: metadata,
	}
}

// Store persists items. Save must upsert by Item.ID.
type Store interface {
	Save(ctx context.Context, item Item) error
}
