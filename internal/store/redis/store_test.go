package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/bridge_client/internal/errors"
)

func TestKeys(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, "bridge:session:abc", s.key("abc"))
	assert.Equal(t, "bridge:sessions", s.index())

	s = New(nil, "test:")
	assert.Equal(t, "test:session:abc", s.key("abc"))
}

func TestStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	ctx := context.Background()
	s, err := Open(ctx, addr, "test:"+uuid.NewString()+":")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Save(ctx, "s1", []byte(`{"format":1}`)))
	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, `{"format":1}`, string(got))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Load(ctx, "s1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "s1"), errors.ErrNotFound))
}
