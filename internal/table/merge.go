package table

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/metrics"
)

// Merge upserts source into the table keyed on the given columns. Rows whose
// key matches an existing row replace it entirely; the rest are appended.
// Only data files holding a matched row are rewritten. When source repeats a
// key, its last row wins. Rows with a null key column never match.
func (t *Table) Merge(ctx context.Context, source *frame.Frame, on []string) (*MergeResult, error) {
	if len(on) == 0 {
		return nil, lakeerr.Validationf("merge needs at least one key column")
	}
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}
	base := t.snap
	for _, c := range on {
		if base.Schema.Index(c) < 0 {
			return nil, &lakeerr.ValidationError{Field: c, Reason: "merge key column does not exist"}
		}
	}
	src, err := alignToSchema(source, base.Schema)
	if err != nil {
		return nil, err
	}
	if src.NumRows() == 0 {
		return &MergeResult{}, nil
	}
	start := time.Now()

	// Last occurrence of each key wins; keyed rows keep first-seen order.
	lastRow := make(map[string]int)
	var keyOrder []string
	var unkeyed []int
	for r := 0; r < src.NumRows(); r++ {
		key, ok := rowKey(src, r, on)
		if !ok {
			unkeyed = append(unkeyed, r)
			continue
		}
		if _, seen := lastRow[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		lastRow[key] = r
	}

	candidates := t.mergeCandidates(base, src, on)
	frames, err := t.readFiles(ctx, candidates)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{}
	matched := make(map[string]bool)
	removed := make(map[string]bool)
	var rewritten []*frame.Frame
	for i, existing := range frames {
		n := existing.NumRows()
		picks := make([]int, n)
		hit := false
		for r := 0; r < n; r++ {
			picks[r] = r
			key, ok := rowKey(existing, r, on)
			if !ok {
				continue
			}
			if s, found := lastRow[key]; found {
				// Indexes past n address src rows in the combined frame.
				picks[r] = n + s
				matched[key] = true
				result.RowsUpdated++
				hit = true
			}
		}
		if !hit {
			continue
		}
		combined, err := frame.Concat(existing, src)
		if err != nil {
			return nil, fmt.Errorf("rebuild data file %s: %w", candidates[i].Path, err)
		}
		rewritten = append(rewritten, combined.Take(picks))
		removed[candidates[i].Path] = true
	}

	var inserts []int
	for _, key := range keyOrder {
		if !matched[key] {
			inserts = append(inserts, lastRow[key])
		}
	}
	inserts = append(inserts, unkeyed...)
	slices.Sort(inserts)
	result.RowsInserted = len(inserts)
	if len(inserts) > 0 {
		rewritten = append(rewritten, src.Take(inserts))
	}

	if len(rewritten) == 0 {
		return result, nil
	}
	changes, err := frame.Concat(rewritten...)
	if err != nil {
		return nil, err
	}

	added, err := t.writeFiles(ctx, OperationMerge, changes, base.PartitionColumns)
	if err != nil {
		return nil, err
	}

	files := make([]DataFile, 0, len(base.Files)+len(added))
	for _, df := range base.Files {
		if !removed[df.Path] {
			files = append(files, df)
		}
	}
	files = append(files, added...)
	result.FilesAdded = len(added)
	result.FilesRemoved = len(removed)

	snap := &Snapshot{
		Version:          base.Version + 1,
		TableID:          base.TableID,
		TimestampMs:      time.Now().UnixMilli(),
		Operation:        OperationMerge,
		Schema:           base.Schema,
		PartitionColumns: base.PartitionColumns,
		Files:            files,
		Summary: map[string]string{
			"merge-keys":    strings.Join(on, ","),
			"updated-rows":  strconv.Itoa(result.RowsUpdated),
			"inserted-rows": strconv.Itoa(result.RowsInserted),
			"added-files":   strconv.Itoa(result.FilesAdded),
			"removed-files": strconv.Itoa(result.FilesRemoved),
			"total-files":   strconv.Itoa(len(files)),
		},
	}
	if err := t.commit(ctx, snap, added); err != nil {
		return nil, err
	}

	metrics.TableCommitDuration.WithLabelValues(OperationMerge).Observe(time.Since(start).Seconds())
	metrics.TableRowsMergedTotal.WithLabelValues("updated").Add(float64(result.RowsUpdated))
	metrics.TableRowsMergedTotal.WithLabelValues("inserted").Add(float64(result.RowsInserted))
	t.logger.Debug("merge committed",
		"version", snap.Version,
		"updated", result.RowsUpdated,
		"inserted", result.RowsInserted,
		"files_removed", result.FilesRemoved,
		"files_added", result.FilesAdded,
	)
	return result, nil
}

// mergeCandidates returns the data files that may hold a key of src. Files
// are skipped when a key column is a partition column whose value no source
// row carries.
func (t *Table) mergeCandidates(base *Snapshot, src *frame.Frame, on []string) []DataFile {
	keyValues := make(map[string]map[string]bool)
	for _, c := range on {
		if !slices.Contains(base.PartitionColumns, c) {
			continue
		}
		set := make(map[string]bool)
		for _, v := range src.Values(c) {
			set[FormatPartitionValue(v)] = true
		}
		keyValues[c] = set
	}

	var out []DataFile
	for _, df := range base.Files {
		keep := true
		for c, set := range keyValues {
			if v, ok := df.Partition[c]; ok && !set[v] {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, df)
		}
	}
	metrics.TableFilesPrunedTotal.Add(float64(len(base.Files) - len(out)))
	return out
}

// rowKey builds the composite key of row r. It reports false when any key
// column is null.
func rowKey(f *frame.Frame, r int, on []string) (string, bool) {
	var b strings.Builder
	for i, c := range on {
		v := f.Value(r, c)
		if v == nil {
			return "", false
		}
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(frame.KeyString(v))
	}
	return b.String(), true
}
