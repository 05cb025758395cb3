package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUniversalClientSingle(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewUniversalClient(context.Background(), Config{Mode: ModeSingle, Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewUniversalClientValidation(t *testing.T) {
	_, err := NewUniversalClient(context.Background(), Config{})
	assert.Error(t, err)

	_, err = NewUniversalClient(context.Background(), Config{Mode: ModeSentinel, Addrs: []string{"127.0.0.1:26379"}})
	assert.ErrorContains(t, err, "master name")
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeCluster, ParseMode(" Cluster "))
	assert.Equal(t, ModeSentinel, ParseMode("sentinel"))
	assert.Equal(t, ModeSingle, ParseMode(""))
	assert.Equal(t, ModeSingle, ParseMode("bogus"))
}
