package docsort

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		op      Operation
		params  Params
		wantErr bool
	}{
		{name: "process", op: OperationProcessProject},
		{name: "reclassify with prompt", op: OperationReclassify, params: Params{Prompt: "move the bank statement"}},
		{name: "reclassify blank prompt", op: OperationReclassify, params: Params{Prompt: "  "}, wantErr: true},
		{name: "unknown op", op: Operation("delete_everything"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.params.Validate(tt.op)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLookupCategory(t *testing.T) {
	t.Parallel()

	cat, err := LookupCategory(3)
	require.NoError(t, err)
	require.Equal(t, "Bank statement", cat.English)

	_, err = LookupCategory(0)
	require.ErrorIs(t, err, ErrInvalidCategory)
	_, err = LookupCategory(21)
	require.ErrorIs(t, err, ErrInvalidCategory)
	require.Len(t, Categories(), 20)
}

func TestGroupByCategory(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: 3, ProjectID: 1, FileName: "invoice.pdf"},
		{ID: 1, ProjectID: 1, FileName: "statement.pdf"},
		{ID: 2, ProjectID: 1, FileName: "scan.png"},
		{ID: 4, ProjectID: 1, FileName: "receipt.pdf"},
	}
	cls := []Classification{
		{DocumentID: 3, CategoryID: 4, Confidence: 0.9},
		{DocumentID: 1, CategoryID: 3, Confidence: 0.8, Reasoning: "IBAN and balance"},
		{DocumentID: 4, CategoryID: 4, Confidence: 0.7},
	}

	groups := GroupByCategory(docs, cls)
	require.Len(t, groups, 3)
	require.Equal(t, UnclassifiedID, groups[0].CategoryID)
	require.Equal(t, "Unclassified", groups[0].CategoryEnglish)
	require.Equal(t, 3, groups[1].CategoryID)
	require.Equal(t, "IBAN and balance", groups[1].Documents[0].Reasoning)
	require.Equal(t, 4, groups[2].CategoryID)
	require.Len(t, groups[2].Documents, 2)
	require.Equal(t, int64(3), groups[2].Documents[0].ID)
	require.Equal(t, int64(4), groups[2].Documents[1].ID)
}
