package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalModeAlwaysValid(t *testing.T) {
	g, err := NewGenerator(ModeNormal, WithSeed(1))
	require.NoError(t, err)

	for range 500 {
		p := g.Next()
		require.True(t, p.Valid)
		require.Equal(t, []string{"pressure", "flow", "radius"}, p.Columns)
		require.Len(t, p.Data, 1)
		require.Len(t, p.Data[0], 3)

		for i, f := range DefaultFields() {
			assert.GreaterOrEqual(t, p.Data[0][i], f.Min)
			assert.LessOrEqual(t, p.Data[0][i], f.Max)
		}
	}
}

func TestFailureModeMix(t *testing.T) {
	g, err := NewGenerator(ModeFailure, WithSeed(42))
	require.NoError(t, err)

	invalid := 0
	n := 5000
	for range n {
		p := g.Next()
		if !p.Valid {
			invalid++
			assert.Equal(t, []string{"pressure", "flow"}, p.Columns)
			assert.Len(t, p.Data[0], 2)
		} else {
			assert.Len(t, p.Columns, 3)
		}
	}

	share := float64(invalid) / float64(n)
	assert.InDelta(t, DefaultFailureProbability, share, 0.05)
}

func TestFailureProbabilityBounds(t *testing.T) {
	g, err := NewGenerator(ModeFailure, WithSeed(7), WithFailureProbability(0))
	require.NoError(t, err)
	for range 100 {
		assert.True(t, g.Next().Valid)
	}

	g, err = NewGenerator(ModeFailure, WithSeed(7), WithFailureProbability(1))
	require.NoError(t, err)
	for range 100 {
		assert.False(t, g.Next().Valid)
	}
}

func TestSeededGeneratorIsDeterministic(t *testing.T) {
	a, err := NewGenerator(ModeFailure, WithSeed(99))
	require.NoError(t, err)
	b, err := NewGenerator(ModeFailure, WithSeed(99))
	require.NoError(t, err)

	for range 50 {
		assert.Equal(t, a.Next(), b.Next())
	}
}

func TestNewGeneratorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		opts []Option
	}{
		{"unknown mode", Mode("chaos"), nil},
		{"empty fields", ModeNormal, []Option{WithFields(nil)}},
		{"single field in failure mode", ModeFailure, []Option{WithFields([]Field{{Name: "x", Max: 1}})}},
		{"inverted range", ModeNormal, []Option{WithFields([]Field{{Name: "x", Min: 2, Max: 1}})}},
		{"unnamed field", ModeNormal, []Option{WithFields([]Field{{Min: 0, Max: 1}})}},
		{"probability above one", ModeFailure, []Option{WithFailureProbability(1.5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.mode, tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestPayloadBody(t *testing.T) {
	p := Payload{
		Columns: []string{"pressure", "flow", "radius"},
		Data:    [][]float64{{120, 4.2, 0.35}},
		Valid:   true,
	}

	b, err := p.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"dataframe_split":{"columns":["pressure","flow","radius"],"data":[[120,4.2,0.35]]}}`, string(b))
}
