package store

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// CopyAll upserts every record of the given collections from one store into
// another. Each collection is copied in its own write unit. Returns the
// number of records copied per collection.
func CopyAll(ctx context.Context, from, to Store, collections []string) (map[string]int, error) {
	counts := make(map[string]int, len(collections))
	for _, collection := range collections {
		var docs [][]byte
		err := from.View(ctx, func(r Reader) error {
			var err error
			docs, err = r.List(ctx, collection, nil)
			return err
		})
		if err != nil {
			return counts, fmt.Errorf("failed to read %s: %w", collection, err)
		}

		n := 0
		err = to.Update(ctx, func(tx Tx) error {
			for _, doc := range docs {
				id := jsoniter.Get(doc, "id").ToString()
				if id == "" {
					continue
				}
				if err := tx.Put(ctx, collection, id, doc); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return counts, fmt.Errorf("failed to write %s: %w", collection, err)
		}
		counts[collection] = n
	}
	return counts, nil
}
