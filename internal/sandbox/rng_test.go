package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRNGDeterministicFixtures(t *testing.T) {
	r := NewRNG(42)
	v1, err := r.Random(10)
	require.Nil(t, err)
	v2, err := r.Random(10)
	require.Nil(t, err)
	v3, err := r.Random(10)
	require.Nil(t, err)
	require.Equal(t, []uint64{6, 0, 4}, []uint64{v1, v2, v3})
}

func TestRNGRejectionSamplingFixture(t *testing.T) {
	r := NewRNG(42)
	v, err := r.Random(2147483649)
	require.Nil(t, err)
	require.Equal(t, uint64(1925393290), v)
}

func TestRNGRejectsOutOfRangeN(t *testing.T) {
	r := NewRNG(1)
	_, err := r.Random(0)
	require.NotNil(t, err)
	require.Equal(t, "ENGINE_RANDOM_ARG", err.Code)
}

func TestRNGSeedBecomesInitialState(t *testing.T) {
	r := NewRNG(1)
	require.Equal(t, uint32(1), r.State())
}
