package round

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swarmnet/validator/internal/models"
)

// FilePublisher writes each round's weight vector to a JSON file, one
// per seed. It stands in for the on-chain weight setter during local
// rounds; deployments plug their chain client into Publisher instead.
type FilePublisher struct {
	Dir string
}

func (p *FilePublisher) Publish(ctx context.Context, seed int64, weights []models.Weight) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("creating publish directory: %w", err)
	}

	raw, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding weights: %w", err)
	}

	path := filepath.Join(p.Dir, fmt.Sprintf("weights-%d.json", seed))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing weights: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing weights file: %w", err)
	}
	return nil
}
