package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

// #region layout

const sessionSuffix = "_data.db"

// SessionPath returns the container path for a session started at stamp
// (YYYYMMDDhhmmss).
func SessionPath(dataDir, subject, stamp string) string {
	return filepath.Join(dataDir, subject, stamp+sessionSuffix)
}

// #endregion

// #region past-trials

// LoadPastTrials reads finalized trials from the subject's earlier session
// files, oldest session first. At most limit trials are returned, keeping the
// most recent; limit <= 0 keeps all. Unreadable sessions are skipped and
// reported in the returned slice of errors.
func LoadPastTrials(dataDir, subject string, limit int) ([]trial.Record, []error) {
	dir := filepath.Join(dataDir, subject)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("list sessions: %w", err)}
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), sessionSuffix) {
			files = append(files, e.Name())
		}
	}
	// Timestamped names sort chronologically.
	sort.Strings(files)

	var records []trial.Record
	var errs []error
	for _, name := range files {
		recs, err := readTrials(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", name, err))
			continue
		}
		records = append(records, recs...)
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, errs
}

func readTrials(path string) ([]trial.Record, error) {
	st, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	rows, err := st.Rows(trial.TrialsStream)
	if err != nil {
		return nil, err
	}
	out := make([]trial.Record, 0, len(rows))
	for _, r := range rows {
		var rec trial.Record
		if err := r.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode trial row %d: %w", r.Row, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// #endregion
