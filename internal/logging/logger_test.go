package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "serve")
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "")
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestProjectFields(t *testing.T) {
	t.Parallel()

	assert.Len(t, ProjectFields(7, ""), 1)
	fields := ProjectFields(7, "job-1")
	require.Len(t, fields, 2)
	assert.Equal(t, "project_id", fields[0].Key)
	assert.Equal(t, int64(7), fields[0].Integer)
	assert.Equal(t, "job_id", fields[1].Key)
	assert.Equal(t, "job-1", fields[1].String)
}
