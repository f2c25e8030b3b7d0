package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperengine-ai/whisperengine-go/internal/storage"
)

func TestEmbed_Deterministic(t *testing.T) {
	p := New()
	ctx := context.Background()

	a, err := p.Embed(ctx, "My cat's name is Luna")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "My cat's name is Luna")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, p.Dimension())
}

func TestEmbed_UnitNorm(t *testing.T) {
	p := New()
	vec, err := p.Embed(context.Background(), "the quick brown fox jumps over the lazy dog")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestEmbed_SharedTokensScoreHigher(t *testing.T) {
	p := New()
	ctx := context.Background()

	fact, err := p.Embed(ctx, "My cat's name is Luna")
	require.NoError(t, err)
	related, err := p.Embed(ctx, "My cat's name is Max")
	require.NoError(t, err)
	unrelated, err := p.Embed(ctx, "the weather is lovely")
	require.NoError(t, err)

	near := storage.CosineSimilarity(fact, related)
	far := storage.CosineSimilarity(fact, unrelated)
	assert.Greater(t, near, far)
	assert.Greater(t, near, 0.8)
}

func TestEmbed_CaseAndPunctuationInsensitive(t *testing.T) {
	p := New()
	ctx := context.Background()

	a, err := p.Embed(ctx, "Hello, World!")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbed_EmptyTextNotZeroVector(t *testing.T) {
	p := New()
	vec, err := p.Embed(context.Background(), "...")
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[0])
}

func TestEmbed_FailAfter(t *testing.T) {
	p := New()
	boom := errors.New("model offline")
	p.FailAfter(2, boom)
	ctx := context.Background()

	_, err := p.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = p.Embed(ctx, "second")
	require.NoError(t, err)
	_, err = p.Embed(ctx, "third")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(3), p.Calls())
}

func TestEmbed_RespectsCancelledContext(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewWithDimension(t *testing.T) {
	p := NewWithDimension(16)
	assert.Equal(t, 16, p.Dimension())

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	assert.Equal(t, defaultDimension, NewWithDimension(0).Dimension())
}
