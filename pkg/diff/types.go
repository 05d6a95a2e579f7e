package diff

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row represents a single fetched row as a mapping from column name to
// value. Values are whatever the row source produced; the canonical
// conversion to a stable string form happens in FormatValue.
type Row map[string]any

// Key is the canonical string form of a row's primary-key value. It is
// stable across runs and comparable for equality and ordering.
type Key string

// Digest is a fixed-length content hash of a row's selected columns.
type Digest [32]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler so digests serialize as
// hex strings in persisted state.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(d[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid digest %q: %w", text, err)
	}
	if len(b) != len(d) {
		return fmt.Errorf("invalid digest length %d", len(b))
	}
	copy(d[:], b)
	return nil
}

// KeyRange is a contiguous primary-key range, exclusive on the low end and
// inclusive on the high end. An empty Low or High means the range is
// unbounded on that side, so a sequence of ranges built from boundary keys
// tiles the entire key space.
type KeyRange struct {
	Low  Key `json:"low,omitempty"`
	High Key `json:"high,omitempty"`
}

// Contains reports whether k falls inside the range.
func (r KeyRange) Contains(k Key) bool {
	if r.Low != "" && CompareKeys(k, r.Low) <= 0 {
		return false
	}
	if r.High != "" && CompareKeys(k, r.High) > 0 {
		return false
	}
	return true
}

// Overlaps reports whether two ranges share any portion of the key space.
func (r KeyRange) Overlaps(o KeyRange) bool {
	if r.High != "" && o.Low != "" && CompareKeys(r.High, o.Low) <= 0 {
		return false
	}
	if o.High != "" && r.Low != "" && CompareKeys(o.High, r.Low) <= 0 {
		return false
	}
	return true
}

func (r KeyRange) String() string {
	lo, hi := string(r.Low), string(r.High)
	if lo == "" {
		lo = "-inf"
	}
	if hi == "" {
		hi = "+inf"
	}
	return fmt.Sprintf("(%s, %s]", lo, hi)
}

// CompareKeys orders two keys the way the partitioning logic needs them
// ordered: numerically when both are integral, lexicographically otherwise.
func CompareKeys(a, b Key) int {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(string(a), string(b))
}

// KeyOf extracts the canonical key for row from the configured primary-key
// column. It fails when the column is absent or the value is NULL; rows
// without a usable key cannot be tracked across runs.
func KeyOf(row Row, column string) (Key, error) {
	v, ok := row[column]
	if !ok {
		return "", &SchemaMismatchError{Column: column}
	}
	s, null := FormatValue(v)
	if null {
		return "", fmt.Errorf("null primary key value in column %s", column)
	}
	return Key(s), nil
}

// FormatValue converts a value to its canonical string form. The second
// return value reports a NULL, which callers must encode distinctly from
// any legitimate string. The conversion is fixed and locale independent:
// integers in base 10, floats in shortest round-trip form, times in UTC
// RFC 3339 with nanoseconds.
func FormatValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, false
	case []byte:
		return hex.EncodeToString(x), false
	case bool:
		return strconv.FormatBool(x), false
	case int:
		return strconv.FormatInt(int64(x), 10), false
	case int32:
		return strconv.FormatInt(int64(x), 10), false
	case int64:
		return strconv.FormatInt(x, 10), false
	case uint64:
		return strconv.FormatUint(x, 10), false
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), false
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), false
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), false
	default:
		return fmt.Sprintf("%v", x), false
	}
}

// Modification pairs a changed row with the digest its key had in the
// prior state. OldDigest is nil when the strategy has no prior digest to
// report, as with timestamp-based detection.
type Modification struct {
	Key       Key     `json:"key"`
	OldDigest *Digest `json:"old_digest,omitempty"`
	Row       Row     `json:"row"`
}

// ChangeSet is the classified result of one comparison run. It is produced
// fresh each run and never persisted by the detection engine itself.
type ChangeSet struct {
	Datasource string         `json:"datasource"`
	Table      string         `json:"table"`
	Added      []Row          `json:"added"`
	Modified   []Modification `json:"modified"`
	Deleted    []Key          `json:"deleted"`
}

// Empty reports whether the run classified no changes at all.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Summary returns a compact added/modified/deleted count string for logs.
func (c *ChangeSet) Summary() string {
	return fmt.Sprintf("added=%d modified=%d deleted=%d",
		len(c.Added), len(c.Modified), len(c.Deleted))
}
