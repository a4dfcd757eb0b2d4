package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constFunc(dim int) Func {
	return func(ctx context.Context, text string) ([]float32, error) {
		return make([]float32, dim), nil
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	e := New(constFunc(384), 384, DefaultBreakerConfig())
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 384)
	assert.Equal(t, "closed", e.State())
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	e := New(constFunc(10), 384, DefaultBreakerConfig())
	_, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestEmbedCircuitOpensAfterRepeatedFailures(t *testing.T) {
	failing := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("backend unavailable")
	}
	cfg := BreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxSuccesses: 1}
	e := New(failing, 384, cfg)

	for i := 0; i < 2; i++ {
		_, err := e.Embed(context.Background(), "x")
		assert.Error(t, err)
	}

	_, err := e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", e.State())
}
