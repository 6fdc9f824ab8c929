package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldHideField(t *testing.T) {
	tests := []struct {
		name  string
		value string
		hide  bool
	}{
		{"Front", "hola", false},
		{"Audio", "[sound:hola.mp3]", true},
		{"Word Sound", "x", true},
		{"Image", "<img src=a.png>", true},
		{"Picture Hint", "x", true},
		{"Add Reverse", "y", true},
		{"Back", "", true},
		{"Back", "   ", true},
		{"Notes", "see also", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"="+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.hide, shouldHideField(tt.name, tt.value))
		})
	}
}

func TestFormatNote(t *testing.T) {
	note := NoteInfo{
		NoteID: 7,
		Fields: map[string]NoteField{
			"Back":        {Value: "hello", Order: 1},
			"Front":       {Value: "hola", Order: 0},
			"Audio":       {Value: "[sound:hola.mp3]", Order: 2},
			"Add Reverse": {Value: "y", Order: 3},
			"Extra":       {Value: "", Order: 4},
		},
	}

	assert.Equal(t, "<note id=7>\nFront: hola\nBack: hello\n</note>", formatNote(note))
}

func TestFormatNotes_SkipsUnknownEntries(t *testing.T) {
	notes := []NoteInfo{
		{NoteID: 1, Fields: map[string]NoteField{"Front": {Value: "a"}}},
		{},
		{NoteID: 2, Fields: map[string]NoteField{"Front": {Value: "b"}}},
	}

	assert.Equal(t, "<note id=1>\nFront: a\n</note>\n\n<note id=2>\nFront: b\n</note>", formatNotes(notes))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "1500000000001", formatValue(float64(1500000000001)))
	assert.Equal(t, "2.5", formatValue(2.5))
	assert.Equal(t, "Default", formatValue("Default"))
}

func TestFormatServerInfo(t *testing.T) {
	info := ServerInfo{
		Connected: true,
		Version:   "6",
		Config:    map[string]string{"MAX_RETRIES": "3", "ANKI_CONNECT_URL": "http://localhost:8765"},
	}

	want := "anki-mcp 1.0.0\nAnkiConnect: connected (version 6)\nConfiguration:\n" +
		"- ANKI_CONNECT_URL: http://localhost:8765\n- MAX_RETRIES: 3"
	assert.Equal(t, want, formatServerInfo(info))
}

func TestWithFilter(t *testing.T) {
	assert.Equal(t, "is:due", withFilter("", "is:due"))
	assert.Equal(t, `deck:"Spanish" is:due`, withFilter("Spanish", "is:due"))
	assert.Equal(t, `deck:"Spanish"`, withFilter("Spanish"))
	assert.Equal(t, "", withFilter(""))
}
