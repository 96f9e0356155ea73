package resolution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacement(t *testing.T) {
	e := Entry{
		VersionA: Version{Content: "alpha"},
		VersionB: Version{Content: "beta"},
	}
	tests := []struct {
		choice Choice
		want   string
	}{
		{ChoiceKeepA, "alpha"},
		{ChoiceKeepB, "beta"},
		{ChoiceKeepBoth, "alpha\n\n---\n\nbeta"},
	}
	for _, tt := range tests {
		t.Run(string(tt.choice), func(t *testing.T) {
			got, err := Replacement(e, tt.choice, DefaultKeepBothSeparator)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Replacement(e, "both", DefaultKeepBothSeparator)
	assert.ErrorIs(t, err, ErrUnknownChoice)

	empty := Entry{}
	got, err := Replacement(empty, ChoiceKeepBoth, DefaultKeepBothSeparator)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestRawEntryFromJSON(t *testing.T) {
	body := `{"id":"r1","from":3,"to":1,"versionA":{"authorId":"1","content":"x"},"versionB":{"authorId":"2","authorName":"Bob","content":7}}`
	var raw RawEntry
	require.NoError(t, json.Unmarshal([]byte(body), &raw))

	e, ok := normalizeEntry(raw, 10)
	require.True(t, ok)
	assert.Equal(t, 1, e.From)
	assert.Equal(t, 3, e.To)
	assert.Equal(t, "r1", e.SectionID)
	assert.Equal(t, "1", e.VersionA.AuthorName)
	assert.Equal(t, "7", e.VersionB.Content)
	assert.Nil(t, e.TriggeredAtMs)

	_, ok = normalizeEntry(RawEntry{ID: "r2", From: 1, To: 2, VersionA: raw.VersionA}, 10)
	assert.False(t, ok)
}

func TestClampRange(t *testing.T) {
	from, to := clampRange(-3, 50, 10)
	assert.Equal(t, 0, from)
	assert.Equal(t, 10, to)

	from, to = clampRange(8, 2, 10)
	assert.Equal(t, 2, from)
	assert.Equal(t, 8, to)
}
