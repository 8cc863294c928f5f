package redisx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "http://not-redis")
	require.ErrorContains(t, err, "parse redis url")
}
