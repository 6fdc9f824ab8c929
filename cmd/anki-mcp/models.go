// Package main provides the anki-mcp server.
package main

// NoteField is one field of a note as returned by notesInfo.
type NoteField struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

// NoteInfo is one entry of the notesInfo result.
type NoteInfo struct {
	NoteID    int64                `json:"noteId"`
	ModelName string               `json:"modelName"`
	Tags      []string             `json:"tags"`
	Fields    map[string]NoteField `json:"fields"`
	Cards     []int64              `json:"cards"`
}

// CardInfo is the subset of cardsInfo the tools use.
type CardInfo struct {
	CardID    int64  `json:"cardId"`
	Note      int64  `json:"note"`
	DeckName  string `json:"deckName"`
	ModelName string `json:"modelName"`
	Queue     int    `json:"queue"`
	Type      int    `json:"type"`
	Interval  int    `json:"interval"`
}

// NewNote is the note shape accepted by addNote and addNotes.
type NewNote struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags"`
}

// BatchNote is one entry of the anki_batch_add_notes input.
type BatchNote struct {
	Front string
	Back  string
	Tags  []string
}

// FindNotesResult is a page of a note search.
type FindNotesResult struct {
	Query       string
	TotalCount  int
	Offset      int
	Limit       int
	WithContent bool
	NoteIDs     []int64
	Notes       []NoteInfo
	HasMore     bool
	NextOffset  int
}

// DeckStatsResult combines getDeckStats with a note count.
type DeckStatsResult struct {
	DeckName   string
	Stats      map[string]any
	TotalNotes int
}

// DueCardsResult summarises what is due for review.
type DueCardsResult struct {
	DeckName      string
	TotalDue      int
	NewCards      int
	LearningCards int
	ReviewCards   int
	SampleCards   []CardInfo
	SampleNotes   []NoteInfo
}

// StudyProgress summarises a deck's maturity and recent activity.
type StudyProgress struct {
	DeckName      string
	Days          int
	TotalCards    int
	NewCards      int
	YoungCards    int
	MatureCards   int
	RecentReviews int
	MaturePercent float64
	NewPercent    float64
}

// ReviewHistory counts reviews per ease button over a period.
type ReviewHistory struct {
	DeckName     string
	Days         int
	TotalReviews int
	Again        int
	Hard         int
	Good         int
	Easy         int
	SuccessRate  float64
	StudiedCards int
}

// BatchAddResult reports the outcome of addNotes.
type BatchAddResult struct {
	Attempted int
	Succeeded []int64
	Failed    int
}

// BatchTagsResult reports per-note tag updates.
type BatchTagsResult struct {
	Total   int
	Updated int
	Failed  int
}

// ChangeNoteTypeResult reports a note type migration.
type ChangeNoteTypeResult struct {
	OriginalModel string
	TargetModel   string
	NewNoteIDs    []int64
	Processed     int
	Failed        int
}

// NoteType is a note type and its fields.
type NoteType struct {
	Name   string
	Fields []string
	Err    error
}

// ServerInfo describes the server and its AnkiConnect connection.
type ServerInfo struct {
	Config    map[string]string
	Connected bool
	Version   string
}
