package blobstore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoBucketConfigured(t *testing.T) {
	store, err := New(context.Background(), Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, store)
}
