package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/metrics"
	"github.com/Garsdal/timelake/internal/objstore"
)

const (
	logDirName   = "_log"
	hintFileName = "_latest"
)

func logDir(location string) string {
	return objstore.Join(location, logDirName)
}

func snapshotPath(location string, version int64) string {
	return objstore.Join(location, logDirName, fmt.Sprintf("%020d.json", version))
}

// latestVersion returns the newest committed version, or -1 when the table
// does not exist. The hint file is only a starting point: versions after it
// are checked until one is missing.
func latestVersion(ctx context.Context, store objstore.Store, location string) (int64, error) {
	hint, err := store.Read(ctx, objstore.Join(location, logDirName, hintFileName))
	if err == nil {
		if v, perr := strconv.ParseInt(strings.TrimSpace(string(hint)), 10, 64); perr == nil && v >= 0 {
			if ok, _ := store.Exists(ctx, snapshotPath(location, v)); ok {
				for {
					next, err := store.Exists(ctx, snapshotPath(location, v+1))
					if err != nil {
						return -1, fmt.Errorf("check version %d: %w", v+1, err)
					}
					if !next {
						return v, nil
					}
					v++
				}
			}
		}
	} else if !errors.Is(err, objstore.ErrNotExist) {
		return -1, fmt.Errorf("read version hint: %w", err)
	}

	versions, err := listVersions(ctx, store, location)
	if err != nil {
		return -1, err
	}
	if len(versions) == 0 {
		return -1, nil
	}
	return versions[len(versions)-1], nil
}

// listVersions returns every committed version in ascending order.
func listVersions(ctx context.Context, store objstore.Store, location string) ([]int64, error) {
	keys, err := store.List(ctx, logDir(location))
	if err != nil {
		return nil, fmt.Errorf("list table log: %w", err)
	}

	var versions []int64
	for _, key := range keys {
		name := objstore.Base(key)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	// List output is sorted and names are zero-padded, so versions ascend.
	return versions, nil
}

func readSnapshot(ctx context.Context, store objstore.Store, location string, version int64) (*Snapshot, error) {
	data, err := store.Read(ctx, snapshotPath(location, version))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %d: %w", version, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", version, err)
	}
	return &snap, nil
}

// commitSnapshot publishes snap. Losing the race for the version yields a
// CommitConflictError.
func commitSnapshot(ctx context.Context, store objstore.Store, location string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := store.Create(ctx, snapshotPath(location, snap.Version), data); err != nil {
		if errors.Is(err, objstore.ErrExist) {
			metrics.TableCommitConflictsTotal.Inc()
			return &lakeerr.CommitConflictError{Location: location, Version: snap.Version}
		}
		return fmt.Errorf("write snapshot %d: %w", snap.Version, err)
	}

	// The hint is advisory; readers fall back to probing when it is stale.
	_ = store.Write(ctx, objstore.Join(location, logDirName, hintFileName), []byte(strconv.FormatInt(snap.Version, 10)))
	return nil
}
