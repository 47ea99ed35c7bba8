package aggregate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/oddsgrid/oddsgrid/racing"
)

// WriteResult writes the aggregated result as an indented JSON
// artifact, via a temp file rename so readers never see a torn write.
func WriteResult(path string, res *racing.AggregatedResult) error {
	payload, err := sonic.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*.json")
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("artifact: rename: %w", err)
	}
	return nil
}
