package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/saver"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
)

var (
	inspectDB     string
	inspectStream string
	inspectLast   int
	inspectJSON   bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize or dump a session file",
	Long: `Without --stream, print row counts per stream, stored arrays, clock anchors
and notes. With --stream, print the last N rows of that stream as JSON lines.

Examples:
  rig inspect --db data/m12/20260301101500_data.db
  rig inspect --db data/m12/20260301101500_data.db --stream trials --last 5`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if inspectDB == "" {
			return errors.New("--db is required")
		}
		st, err := store.OpenReadOnly(inspectDB)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()
		if inspectStream != "" {
			return dumpStream(cmd.OutOrStdout(), st, inspectStream, inspectLast)
		}
		return summarize(cmd.OutOrStdout(), st, inspectJSON)
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDB, "db", "", "path to a session file")
	inspectCmd.Flags().StringVar(&inspectStream, "stream", "", "dump rows of one stream")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "rows to dump with --stream (0 for all)")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output the summary as JSON instead of a table")
	rootCmd.AddCommand(inspectCmd)
}

// #region summary

type arraySummary struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
}

type sessionSummary struct {
	Session string             `json:"session"`
	Subject string             `json:"subject"`
	Streams map[string]int     `json:"streams"`
	Arrays  []arraySummary     `json:"arrays"`
	Sync    map[string]float64 `json:"sync"`
	Notes   []string           `json:"notes"`
}

func buildSummary(st *store.Store) (sessionSummary, error) {
	sum := sessionSummary{Streams: make(map[string]int)}
	names, err := st.Streams()
	if err != nil {
		return sum, err
	}
	for _, name := range names {
		n, err := st.Count(name)
		if err != nil {
			return sum, err
		}
		sum.Streams[name] = n
		if sum.Session == "" && n > 0 {
			rows, err := st.Tail(name, 1)
			if err != nil {
				return sum, err
			}
			sum.Session, sum.Subject = rows[0].Session, rows[0].Subject
		}
	}

	arrays, err := st.Arrays()
	if err != nil {
		return sum, err
	}
	for _, a := range arrays {
		sum.Arrays = append(sum.Arrays, arraySummary{Name: a.Name, Chunks: a.Chunks})
	}

	if sum.Sync, err = st.Sync(); err != nil {
		return sum, err
	}

	raw, found, err := st.Meta(saver.MetaNotes)
	if err != nil {
		return sum, err
	}
	if found {
		var doc struct {
			Notes []string `json:"notes"`
		}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return sum, fmt.Errorf("parse notes: %w", err)
		}
		sum.Notes = doc.Notes
	}
	return sum, nil
}

func summarize(w io.Writer, st *store.Store, jsonOut bool) error {
	sum, err := buildSummary(st)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, sum)
	}

	fmt.Fprintf(w, "Session: %s\n", sum.Session)
	fmt.Fprintf(w, "Subject: %s\n\n", sum.Subject)

	fmt.Fprintf(w, "%-24s  %10s\n", "Stream", "Rows")
	fmt.Fprintf(w, "%-24s+-%10s\n", "------------------------", "----------")
	for _, name := range sortedKeys(sum.Streams) {
		fmt.Fprintf(w, "%-24s  %10d\n", name, sum.Streams[name])
	}

	if len(sum.Arrays) > 0 {
		fmt.Fprintf(w, "\nArrays:\n")
		for _, a := range sum.Arrays {
			fmt.Fprintf(w, "  %-22s %d chunks\n", a.Name, a.Chunks)
		}
	}

	fmt.Fprintf(w, "\nClock anchors:\n")
	for _, id := range sortedKeys(sum.Sync) {
		fmt.Fprintf(w, "  %-22s %.6f\n", id, sum.Sync[id])
	}

	fmt.Fprintf(w, "\nNotes:\n")
	if len(sum.Notes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, n := range sum.Notes {
		fmt.Fprintf(w, "  - %s\n", n)
	}
	return nil
}

// #endregion summary

// #region dump

func dumpStream(w io.Writer, st *store.Store, stream string, last int) error {
	var rows []store.StoredRow
	var err error
	if last > 0 {
		rows, err = st.Tail(stream, last)
	} else {
		rows, err = st.Rows(stream)
	}
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("stream %q has no rows", stream)
	}
	enc := json.NewEncoder(w)
	for _, r := range rows {
		var payload any
		if err := r.Decode(&payload); err != nil {
			return err
		}
		if err := enc.Encode(map[string]any{
			"row": r.Row, "seq": r.Seq, "ts": r.TS, "ts_global": r.TSGlobal, "payload": payload,
		}); err != nil {
			return fmt.Errorf("encode row %d: %w", r.Row, err)
		}
	}
	return nil
}

// #endregion dump

// #region output

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion output
