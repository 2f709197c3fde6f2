package vv_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/vv"
)

func TestIncrementCreatesAndRaises(t *testing.T) {
	v := vv.New()
	v2 := v.Increment("clientA")
	v3 := v2.Increment("clientA")

	assert.Equal(t, int64(0), v.Get("clientA"))
	assert.Equal(t, int64(1), v2.Get("clientA"))
	assert.Equal(t, int64(2), v3.Get("clientA"))
}

func TestDominatesTreatsMissingAsZero(t *testing.T) {
	a := vv.VV{"c1": 2, "c2": 1}
	b := vv.VV{"c1": 1}

	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
}

func TestDominatesRequiresStrictlyGreaterSomewhere(t *testing.T) {
	a := vv.VV{"c1": 1}
	b := vv.VV{"c1": 1}

	assert.False(t, a.Dominates(b))
	assert.True(t, a.Equal(b))
}

func TestConcurrentSymmetricAndIrreflexive(t *testing.T) {
	a := vv.VV{"c1": 2, "c2": 0}
	b := vv.VV{"c1": 0, "c2": 2}

	assert.True(t, a.Concurrent(b))
	assert.True(t, b.Concurrent(a))
	assert.False(t, a.Concurrent(a))
}

func TestEqualIgnoresZeroVsAbsent(t *testing.T) {
	a := vv.VV{"c1": 1, "c2": 0}
	b := vv.VV{"c1": 1}

	assert.True(t, a.Equal(b))
}

func TestMergeIsPointwiseMax(t *testing.T) {
	a := vv.VV{"c1": 3, "c2": 1}
	b := vv.VV{"c1": 1, "c2": 5, "c3": 2}

	merged := vv.Merge(a, b)

	assert.Equal(t, int64(3), merged.Get("c1"))
	assert.Equal(t, int64(5), merged.Get("c2"))
	assert.Equal(t, int64(2), merged.Get("c3"))
	assert.True(t, merged.Dominates(a))
	assert.True(t, merged.Dominates(b))
}

func TestRoundTripJSON(t *testing.T) {
	original := vv.VV{"alpha": 3, "beta": 0, "gamma": 42}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded vv.VV

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded))
	assert.Equal(t, int64(3), decoded.Get("alpha"))
	assert.Equal(t, int64(42), decoded.Get("gamma"))
}

func TestMarshalIsCanonicallyOrdered(t *testing.T) {
	v := vv.VV{"zeta": 1, "alpha": 2}

	data, err := json.Marshal(v)
	require.NoError(t, err)

	assert.Equal(t, `{"alpha":2,"zeta":1}`, string(data))
}

func TestUnmarshalRejectsNonIntegerValues(t *testing.T) {
	var v vv.VV

	err := json.Unmarshal([]byte(`{"c1": "not-a-number"}`), &v)
	require.ErrorIs(t, err, vv.ErrMalformedVector)
}

func TestUnmarshalRejectsFractionalValues(t *testing.T) {
	var v vv.VV

	err := json.Unmarshal([]byte(`{"c1": 1.5}`), &v)
	require.ErrorIs(t, err, vv.ErrMalformedVector)
}

func TestUnmarshalRejectsNegativeValues(t *testing.T) {
	var v vv.VV

	err := json.Unmarshal([]byte(`{"c1": -1}`), &v)
	require.ErrorIs(t, err, vv.ErrMalformedVector)
}

func TestUnmarshalPreservesUnknownKeys(t *testing.T) {
	var v vv.VV

	require.NoError(t, json.Unmarshal([]byte(`{"clientA": 1, "clientB": 7}`), &v))
	assert.Equal(t, int64(1), v.Get("clientA"))
	assert.Equal(t, int64(7), v.Get("clientB"))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, vv.New().IsEmpty())
	assert.True(t, vv.VV{"c1": 0}.IsEmpty())
	assert.False(t, vv.VV{"c1": 1}.IsEmpty())
}
