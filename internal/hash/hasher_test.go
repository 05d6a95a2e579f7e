package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rindang/driftwatch/pkg/diff"
)

func TestRowDigestDeterministic(t *testing.T) {
	row := diff.Row{"id": 1, "name": "widget", "price": 9.99}
	cols := []string{"id", "name", "price"}

	d1, err := RowDigest(row, cols)
	require.NoError(t, err)
	d2, err := RowDigest(row, cols)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
}

func TestRowDigestIgnoresMapOrder(t *testing.T) {
	// Maps carry no order, but the resolved "all columns" order must be
	// the sorted column names, not whatever the source returned.
	a := diff.Row{"b": "2", "a": "1", "c": "3"}
	b := diff.Row{"c": "3", "a": "1", "b": "2"}

	da, err := RowDigest(a, ResolveColumns([]string{"*"}, a))
	require.NoError(t, err)
	db, err := RowDigest(b, ResolveColumns([]string{"*"}, b))
	require.NoError(t, err)

	assert.Equal(t, da, db)
}

func TestRowDigestValueChange(t *testing.T) {
	cols := []string{"id", "name"}
	d1, err := RowDigest(diff.Row{"id": 1, "name": "a"}, cols)
	require.NoError(t, err)
	d2, err := RowDigest(diff.Row{"id": 1, "name": "b"}, cols)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestRowDigestNullDistinctFromEmpty(t *testing.T) {
	cols := []string{"id", "note"}
	dNull, err := RowDigest(diff.Row{"id": 1, "note": nil}, cols)
	require.NoError(t, err)
	dEmpty, err := RowDigest(diff.Row{"id": 1, "note": ""}, cols)
	require.NoError(t, err)

	assert.NotEqual(t, dNull, dEmpty)
}

func TestRowDigestNoConcatenationAmbiguity(t *testing.T) {
	cols := []string{"x", "y"}
	d1, err := RowDigest(diff.Row{"x": "ab", "y": "c"}, cols)
	require.NoError(t, err)
	d2, err := RowDigest(diff.Row{"x": "a", "y": "bc"}, cols)
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestRowDigestMissingColumn(t *testing.T) {
	_, err := RowDigest(diff.Row{"id": 1}, []string{"id", "gone"})

	var mismatch *diff.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "gone", mismatch.Column)
}

func TestFoldOrderSensitive(t *testing.T) {
	r1, err := RowDigest(diff.Row{"id": 1}, []string{"id"})
	require.NoError(t, err)
	r2, err := RowDigest(diff.Row{"id": 2}, []string{"id"})
	require.NoError(t, err)

	var zero diff.Digest
	fwd := Fold(Fold(zero, r1), r2)
	rev := Fold(Fold(zero, r2), r1)

	assert.NotEqual(t, fwd, rev)
}

func TestResolveColumnsExplicitOrderPreserved(t *testing.T) {
	row := diff.Row{"a": 1, "b": 2, "c": 3}
	cols := ResolveColumns([]string{"c", "a"}, row)
	assert.Equal(t, []string{"c", "a"}, cols)
}
