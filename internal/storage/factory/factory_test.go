package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/fruitstatic/internal/storage/local"
)

func TestNew_Local(t *testing.T) {
	src, err := New(context.Background(), Config{Type: "local", Local: local.Config{RootPath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "local", src.Type())
	assert.NoError(t, src.Close())
}

func TestNew_DefaultsToLocal(t *testing.T) {
	src, err := New(context.Background(), Config{Local: local.Config{RootPath: t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, "local", src.Type())
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "smb"})
	assert.ErrorContains(t, err, "unknown source type")
}

func TestNew_S3RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "s3"})
	assert.ErrorContains(t, err, "bucket is required")
}
