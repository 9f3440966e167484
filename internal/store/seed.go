package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// LoadSeed fills empty collections of s from a bundled JSON file shaped as
// {"collection": [doc, ...]}. A missing file is not an error. Collections
// that already hold records are left alone. Returns the number of records written.
func LoadSeed(ctx context.Context, s Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed map[string][]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	written := 0
	err = s.Update(ctx, func(tx Tx) error {
		for collection, docs := range seed {
			existing, err := tx.List(ctx, collection, nil)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				continue
			}
			for i, doc := range docs {
				id := jsoniter.Get(doc, "id").ToString()
				if id == "" {
					return fmt.Errorf("seed record %s[%d] has no id", collection, i)
				}
				if err := tx.Put(ctx, collection, id, []byte(doc)); err != nil {
					return err
				}
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}
