package main

import (
	"testing"

	"github.com/danieldreier/anki-mcp/internal/ankiconnect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDList(t *testing.T) {
	got, err := idList(map[string]interface{}{"note_ids": []interface{}{float64(3), 4, int64(5)}}, "note_ids")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, got)

	for name, raw := range map[string]interface{}{
		"missing":  nil,
		"empty":    []interface{}{},
		"zero":     []interface{}{float64(0)},
		"fraction": []interface{}{1.5},
		"string":   []interface{}{"12"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := idList(map[string]interface{}{"note_ids": raw}, "note_ids")
			assert.True(t, ankiconnect.IsValidation(err), "got %v", err)
		})
	}
}

func TestIntArg(t *testing.T) {
	n, err := intArg(map[string]interface{}{}, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = intArg(map[string]interface{}{"limit": float64(5)}, "limit", 20)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = intArg(map[string]interface{}{"limit": "5"}, "limit", 20)
	assert.True(t, ankiconnect.IsValidation(err))
}

func TestStringList(t *testing.T) {
	got := stringList(map[string]interface{}{"tags": []interface{}{" a ", "", 3.0, "b"}}, "tags")
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Nil(t, stringList(map[string]interface{}{}, "tags"))
}

func TestRequiredText_KeepsWhitespace(t *testing.T) {
	got, err := requiredText(map[string]interface{}{"front": "  indented"}, "front")
	require.NoError(t, err)
	assert.Equal(t, "  indented", got)
}
