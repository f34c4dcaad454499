package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return New("container-1", []NodeRef{
		{ID: "n1", MetatypeID: "mt-pump", MetatypeName: "Pump", OriginalDataID: "p-001", DataSourceID: "ds1"},
		{ID: "n2", MetatypeID: "mt-pump", MetatypeName: "Pump", OriginalDataID: "p-002", DataSourceID: "ds1"},
		{ID: "n3", MetatypeID: "mt-valve", MetatypeName: "Valve", OriginalDataID: "v-001", DataSourceID: "ds2"},
	})
}

func TestFindNodes_Eq(t *testing.T) {
	s := testSnapshot()

	ids, err := s.FindNodes([]Filter{
		{Key: KeyMetatypeName, Operator: OperatorEq, Value: "Pump"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, ids)
}

func TestFindNodes_MultipleFiltersConjunction(t *testing.T) {
	s := testSnapshot()

	ids, err := s.FindNodes([]Filter{
		{Key: KeyMetatypeName, Operator: OperatorEq, Value: "Pump"},
		{Key: KeyOriginalDataID, Operator: OperatorEq, Value: "p-002"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n2"}, ids)
}

func TestFindNodes_Neq(t *testing.T) {
	s := testSnapshot()

	ids, err := s.FindNodes([]Filter{
		{Key: KeyDataSourceID, Operator: OperatorNeq, Value: "ds1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, ids)
}

func TestFindNodes_In(t *testing.T) {
	s := testSnapshot()

	ids, err := s.FindNodes([]Filter{
		{Key: KeyOriginalDataID, Operator: OperatorIn, Value: []string{"p-001", "v-001"}},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n3"}, ids)
}

func TestFindNodes_InFromCommaSeparatedString(t *testing.T) {
	s := testSnapshot()

	ids, err := s.FindNodes([]Filter{
		{Key: KeyOriginalDataID, Operator: OperatorIn, Value: "p-001, p-002"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, ids)
}

func TestFindNodes_EmptyResultIsNotAnError(t *testing.T) {
	s := testSnapshot()

	ids, err := s.FindNodes([]Filter{
		{Key: KeyOriginalDataID, Operator: OperatorEq, Value: "missing"},
	})
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestFindNodes_LikeUnsupported(t *testing.T) {
	s := testSnapshot()

	_, err := s.FindNodes([]Filter{
		{Key: KeyOriginalDataID, Operator: OperatorLike, Value: "p-%"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestFindNodes_PropertyUnsupported(t *testing.T) {
	s := testSnapshot()

	_, err := s.FindNodes([]Filter{
		{Key: KeyProperty, Property: "color", Operator: OperatorEq, Value: "red"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestFindNodes_UnknownOperatorUnsupported(t *testing.T) {
	s := testSnapshot()

	_, err := s.FindNodes([]Filter{
		{Key: KeyID, Operator: "gte", Value: "n1"},
	})
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestCache(t *testing.T) {
	c := NewCache()
	assert.Nil(t, c.Get("container-1"))

	s := testSnapshot()
	c.Put(s)
	assert.Same(t, s, c.Get("container-1"))

	replacement := New("container-1", nil)
	c.Put(replacement)
	assert.Same(t, replacement, c.Get("container-1"))

	c.Drop("container-1")
	assert.Nil(t, c.Get("container-1"))
}
