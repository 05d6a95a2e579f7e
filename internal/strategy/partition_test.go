package strategy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rindang/driftwatch/internal/config"
	"github.com/rindang/driftwatch/internal/state"
	"github.com/rindang/driftwatch/pkg/diff"
)

func partTableConfig(size int) config.TableConfig {
	return config.TableConfig{
		Datasource:    "erp",
		Method:        config.MethodHashPartition,
		PrimaryKey:    "id",
		HashColumns:   []string{"*"},
		PartitionSize: size,
	}
}

func makeRows(n int) []diff.Row {
	rows := make([]diff.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, diff.Row{"id": fmt.Sprintf("%d", i), "val": fmt.Sprintf("v%d", i)})
	}
	return rows
}

func runPartitioned(t *testing.T, src diff.RowSource, prior *state.TableState, size int) *Result {
	t.Helper()
	res, err := NewPartitionedHash().Detect(context.Background(), Input{
		Datasource: "erp",
		Table:      "ledger",
		Config:     partTableConfig(size),
		Prior:      prior,
		Source:     src,
	})
	require.NoError(t, err)
	require.NoError(t, res.State.Validate())
	return res
}

func asPrior(res *Result) *state.TableState {
	res.State.Version = 1
	return res.State
}

func TestPartitionedFirstRunAllAdded(t *testing.T) {
	src := &checksumSource{&fakeSource{keyColumn: "id", rows: makeRows(7)}}

	res := runPartitioned(t, src, nil, 3)

	assert.Len(t, res.Changes.Added, 7)
	assert.Empty(t, res.Changes.Modified)
	assert.Empty(t, res.Changes.Deleted)
	// 7 rows at size 3: boundaries after rows 3 and 6 give 3 ranges.
	assert.Len(t, res.State.Partitioned.Partitions, 3)
	var total int64
	for _, p := range res.State.Partitioned.Partitions {
		assert.Equal(t, p.RowCount, int64(len(p.KeyDigests)))
		// The checksum-capable source's fingerprint is stored per
		// partition so the next run can use the cheap pre-check.
		require.NotNil(t, p.SourceChecksum)
		assert.Equal(t, p.RowCount, p.SourceChecksum.Rows)
		total += p.RowCount
	}
	assert.Equal(t, int64(7), total)
}

func TestPartitionedSkipsUnchangedPartition(t *testing.T) {
	src := &checksumSource{&fakeSource{keyColumn: "id", rows: makeRows(6)}}
	first := runPartitioned(t, src, nil, 3)
	prior := asPrior(first)

	// Change only row 5, which lives in partition ("3","6"].
	src.rows[4]["val"] = "changed"
	src.fetchCalls = nil
	res := runPartitioned(t, src, prior, 3)

	require.Len(t, res.Changes.Modified, 1)
	assert.Equal(t, diff.Key("5"), res.Changes.Modified[0].Key)
	assert.Empty(t, res.Changes.Added)
	assert.Empty(t, res.Changes.Deleted)

	// The unchanged partition ("", "3"] was never fetched row by row,
	// and its stored aggregate was carried forward untouched.
	for _, r := range src.fetchCalls {
		assert.NotEqual(t, diff.KeyRange{Low: "", High: "3"}, r)
	}
	assert.Equal(t,
		first.State.Partitioned.Partitions[0].Aggregate,
		res.State.Partitioned.Partitions[0].Aggregate)
}

func TestPartitionedDetectsDeletionAcrossBoundaryDrift(t *testing.T) {
	src := &checksumSource{&fakeSource{keyColumn: "id", rows: makeRows(6)}}
	first := runPartitioned(t, src, nil, 3)
	prior := asPrior(first)

	// Deleting two rows shifts every partition boundary; the deleted
	// keys must still each appear exactly once.
	src.rows = append(src.rows[:1], src.rows[3:]...) // drop ids 2 and 3
	res := runPartitioned(t, src, prior, 3)

	assert.ElementsMatch(t, []diff.Key{"2", "3"}, res.Changes.Deleted)
	assert.Empty(t, res.Changes.Added)
	assert.Empty(t, res.Changes.Modified)
}

func TestPartitionedMatchesFullHashClassification(t *testing.T) {
	// Partitioning is a performance optimization, not a semantic change:
	// both strategies must classify the same keys the same way.
	baseline := makeRows(20)

	fullSrc := &fakeSource{keyColumn: "id", rows: makeRows(20)}
	partSrc := &checksumSource{&fakeSource{keyColumn: "id", rows: makeRows(20)}}

	fullPrior := runFullHash(t, fullSrc, nil)
	fullPrior.State.Strategy = "hash"
	partPrior := asPrior(runPartitioned(t, partSrc, nil, 6))

	mutate := func() []diff.Row {
		rows := make([]diff.Row, 0, len(baseline))
		for _, row := range baseline {
			id := row["id"].(string)
			switch id {
			case "3", "17": // deleted
				continue
			case "8", "12": // modified
				rows = append(rows, diff.Row{"id": id, "val": "mutated"})
			default:
				rows = append(rows, diff.Row{"id": id, "val": row["val"]})
			}
		}
		return append(rows, diff.Row{"id": "21", "val": "v21"}, diff.Row{"id": "99", "val": "v99"})
	}
	fullSrc.rows = mutate()
	partSrc.rows = mutate()

	fullRes := runFullHash(t, fullSrc, fullPrior.State)
	partRes := runPartitioned(t, partSrc, partPrior, 6)

	assert.ElementsMatch(t, addedKeys(t, fullRes.Changes), addedKeys(t, partRes.Changes))
	assert.ElementsMatch(t, fullRes.Changes.Deleted, partRes.Changes.Deleted)

	modKeys := func(cs *diff.ChangeSet) []diff.Key {
		var keys []diff.Key
		for _, m := range cs.Modified {
			keys = append(keys, m.Key)
		}
		return keys
	}
	assert.ElementsMatch(t, modKeys(fullRes.Changes), modKeys(partRes.Changes))
}

func TestPartitionedWithoutChecksumCapability(t *testing.T) {
	// A source without range checksums still works: every range is
	// fetched, the aggregate comparison just skips the per-row diff.
	src := &fakeSource{keyColumn: "id", rows: makeRows(6)}
	first := runPartitioned(t, src, nil, 3)
	prior := asPrior(first)

	src.rows[0]["val"] = "changed"
	res := runPartitioned(t, src, prior, 3)

	require.Len(t, res.Changes.Modified, 1)
	assert.Equal(t, diff.Key("1"), res.Changes.Modified[0].Key)
	assert.Nil(t, res.State.Partitioned.Partitions[0].SourceChecksum)
}

func TestPartitionedIdempotent(t *testing.T) {
	src := &checksumSource{&fakeSource{keyColumn: "id", rows: makeRows(10)}}
	first := runPartitioned(t, src, nil, 4)
	prior := asPrior(first)

	res := runPartitioned(t, src, prior, 4)

	assert.True(t, res.Changes.Empty())
}
