package cmd

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsort/internal/docsort"
)

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "worker", "watch", "migrate"})
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestParseProjectID(t *testing.T) {
	t.Parallel()

	id, err := parseProjectID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-1", "abc"} {
		_, err := parseProjectID(raw)
		assert.Error(t, err, raw)
	}
}

func TestWatchRequest(t *testing.T) {
	t.Parallel()

	req, err := watchRequest(watchFlags{})
	require.NoError(t, err)
	assert.Equal(t, docsort.OperationProcessProject, req.Operation)

	req, err = watchRequest(watchFlags{reclassify: "  Move receipts to Quittung ", regeneratePDF: true})
	require.NoError(t, err)
	assert.Equal(t, docsort.OperationReclassify, req.Operation)
	assert.Equal(t, "Move receipts to Quittung", req.Params.Prompt)
	assert.True(t, req.Params.RegeneratePDF)

	_, err = watchRequest(watchFlags{regeneratePDF: true})
	require.Error(t, err)
}

func TestWatchRejectsBadProjectID(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetArgs([]string{"watch", "nope"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid project id")
}
