package outputdb

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dd0wney/cluso-contactgraph/pkg/model"
)

// Export writes every stored row to w as CSV with the input header.
// NULL contact_pid and lid become -1 again.
func Export(ctx context.Context, store Store, w io.Writer) (int64, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.OutputColumns); err != nil {
		return 0, err
	}

	var n int64
	err := store.Walk(ctx, func(r model.OutputRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		return cw.Write(model.FormatOutput(r))
	})
	if err != nil {
		return n, fmt.Errorf("export: %w", err)
	}
	cw.Flush()
	return n, cw.Error()
}

// PIDsFileName is the artifact name for pids that entered state.
func PIDsFileName(state string) string {
	return fmt.Sprintf("pids_by_%s.json", state)
}

// WritePIDsByExitState saves the tick to pids map for state as JSON in
// dir and returns the file path. Ticks become object keys.
func WritePIDsByExitState(ctx context.Context, store Store, state, dir string) (string, error) {
	byTick, err := store.PIDsByExitState(ctx, state)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(byTick, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, PIDsFileName(state))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ReadPIDsByExitState loads a file written by WritePIDsByExitState.
func ReadPIDsByExitState(path string) (map[int][]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[int][]int64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}
