package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEncoder derives a vector from the text bytes so calls are
// deterministic and countable.
type stubEncoder struct {
	dimension int
	calls     int
	fail      bool
}

func (e *stubEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.fail {
		return nil, ErrEncodingUnavailable
	}
	vec := make([]float32, e.dimension)
	for i, b := range []byte(text) {
		vec[i%e.dimension] += float32(b) / 255
	}
	return vec, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Great   Food!  ", "great food!"},
		{"OK", "ok"},
		{"\t\n ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in))
	}
}

func TestHashTextStable(t *testing.T) {
	// Whitespace and case differences must not change the address
	h1 := HashText("Great food, slow service")
	h2 := HashText("  great   FOOD, slow service ")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Empty(t, HashText("   "))
}

func TestEmbedDeterministic(t *testing.T) {
	enc := &stubEncoder{dimension: 8}
	svc := NewService(enc, nil, 8)

	v1, err := svc.Embed(context.Background(), "the fries were cold")
	require.NoError(t, err)
	v2, err := svc.Embed(context.Background(), "the fries were cold")
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "identical input must yield identical vectors")
	assert.Equal(t, 1, enc.calls, "second call must be served from cache")
}

func TestEmbedBlankTextReturnsZeroVector(t *testing.T) {
	enc := &stubEncoder{dimension: 4}
	svc := NewService(enc, nil, 4)

	vec, err := svc.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec)
	assert.Zero(t, enc.calls, "blank text must not hit the backend")
}

func TestEmbedBackendUnavailable(t *testing.T) {
	enc := &stubEncoder{dimension: 4, fail: true}
	svc := NewService(enc, nil, 4)

	_, err := svc.Embed(context.Background(), "some text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncodingUnavailable))

	// Cached entries keep working while the backend is down
	enc.fail = false
	_, err = svc.Embed(context.Background(), "other text")
	require.NoError(t, err)
	enc.fail = true
	_, err = svc.Embed(context.Background(), "other text")
	require.NoError(t, err, "cached vector must not require the backend")
}
