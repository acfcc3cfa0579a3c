package kilncache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnbuild/kiln/internal/kilncore/kilnmodule"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(zap.NewNop(), dir, "proj", "development")
	ctx := context.Background()

	cm := CachedModule{
		Module: kilnmodule.Module{
			ID:      kilnmodule.NewID("a.ts", ""),
			Type:    kilnmodule.TypeScript,
			Content: "export default 1",
		},
	}
	key := ContentHash(cm.Module.Content, cm.Module.Type, nil, "development")
	require.NoError(t, c.Put(ctx, key, cm))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cm.Module.Content, got.Module.Content)
	assert.True(t, c.Has(ctx, key))
}

func TestGetMissIsNotError(t *testing.T) {
	c := New(zap.NewNop(), t.TempDir(), "proj", "development")
	_, ok, err := c.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisabledCacheIsAlwaysMiss(t *testing.T) {
	c := New(zap.NewNop(), "", "proj", "development")
	assert.False(t, c.Enabled())
	require.NoError(t, c.Put(context.Background(), "k", CachedModule{}))
	assert.False(t, c.Has(context.Background(), "k"))
}

func TestToolVersionMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New(zap.NewNop(), dir, "proj", "development")
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "k", CachedModule{}))

	SetToolVersion("other")
	defer SetToolVersion("dev")
	assert.False(t, c.Has(ctx, "k"))
}

func TestContentHashStableAcrossCalls(t *testing.T) {
	h1 := ContentHash("content", kilnmodule.TypeCSS, []string{"plugin@1"}, "production")
	h2 := ContentHash("content", kilnmodule.TypeCSS, []string{"plugin@1"}, "production")
	assert.Equal(t, h1, h2)

	h3 := ContentHash("content", kilnmodule.TypeCSS, []string{"plugin@2"}, "production")
	assert.NotEqual(t, h1, h3)
}
