package table

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
)

// NullPartition is the directory value used for null partition values.
const NullPartition = "__HIVE_DEFAULT_PARTITION__"

// FormatPartitionValue renders a partition value as stored in snapshots.
func FormatPartitionValue(v any) string {
	switch x := v.(type) {
	case nil:
		return NullPartition
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// ParsePartitionValue is the inverse of FormatPartitionValue.
func ParsePartitionValue(s string, typ frame.Type) (any, error) {
	if s == NullPartition {
		return nil, nil
	}
	switch typ {
	case frame.TypeString:
		return s, nil
	case frame.TypeInt:
		return strconv.ParseInt(s, 10, 64)
	case frame.TypeFloat:
		return strconv.ParseFloat(s, 64)
	case frame.TypeBool:
		return strconv.ParseBool(s)
	case frame.TypeTimestamp:
		return time.Parse(time.RFC3339Nano, s)
	}
	return nil, fmt.Errorf("unsupported partition type %q", typ)
}

// partitionGroup is a set of rows sharing partition values.
type partitionGroup struct {
	values map[string]string
	rows   []int
}

// groupByPartition splits rows by their partition values, in order of first
// appearance. Without partition columns all rows form one group.
func groupByPartition(f *frame.Frame, columns []string) []partitionGroup {
	if f.NumRows() == 0 {
		return nil
	}
	if len(columns) == 0 {
		rows := make([]int, f.NumRows())
		for i := range rows {
			rows[i] = i
		}
		return []partitionGroup{{rows: rows}}
	}

	index := make(map[string]int)
	var groups []partitionGroup
	for r := 0; r < f.NumRows(); r++ {
		values := make(map[string]string, len(columns))
		key := ""
		for _, c := range columns {
			v := FormatPartitionValue(f.Value(r, c))
			values[c] = v
			key += c + "=" + v + "\x1f"
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, partitionGroup{values: values})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	return groups
}

// partitionDir returns the relative directory for a group.
func partitionDir(columns []string, values map[string]string) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, url.PathEscape(c)+"="+url.PathEscape(values[c]))
	}
	return path.Join(parts...)
}
