package blob

import (
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"

	"github.com/librettohq/libretto/internal/types"
)

// WriteJSON atomically marshals v to path with indentation so stored
// artifacts stay diffable.
func (s *Store) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return s.WriteFile(path, data)
}

// ReadJSON unmarshals an artifact into v, mapping missing files to
// types.ErrNotFound.
func (s *Store) ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.ErrNotFound
		}
		return fmt.Errorf("failed to read JSON: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
