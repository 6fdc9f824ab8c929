package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// hiddenFieldMarkers are substrings that mark media fields.
var hiddenFieldMarkers = []string{"audio", "sound", "image", "picture"}

// shouldHideField reports whether a field is left out of formatted notes:
// media fields, the "Add Reverse" switch and empty values.
func shouldHideField(name, value string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	if name == "Add Reverse" {
		return true
	}
	lower := strings.ToLower(name)
	for _, marker := range hiddenFieldMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// orderedFields returns a note's field names in model order.
func orderedFields(note NoteInfo) []string {
	names := make([]string, 0, len(note.Fields))
	for name := range note.Fields {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		oi, oj := note.Fields[names[i]].Order, note.Fields[names[j]].Order
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	return names
}

// formatNote renders one note as a tagged block.
func formatNote(note NoteInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<note id=%d>\n", note.NoteID)
	for _, name := range orderedFields(note) {
		value := note.Fields[name].Value
		if shouldHideField(name, value) {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", name, value)
	}
	b.WriteString("</note>")
	return b.String()
}

// formatNotes renders notes separated by blank lines.
func formatNotes(notes []NoteInfo) string {
	blocks := make([]string, 0, len(notes))
	for _, n := range notes {
		if n.NoteID == 0 {
			// notesInfo returns an empty object for unknown ids.
			continue
		}
		blocks = append(blocks, formatNote(n))
	}
	return strings.Join(blocks, "\n\n")
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}

// formatFindNotes renders a page of search results.
func formatFindNotes(res FindNotesResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d notes matching '%s'", res.TotalCount, res.Query)
	if len(res.NoteIDs) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "\nShowing %d notes (offset: %d)\n\n", len(res.NoteIDs), res.Offset)
	if res.WithContent {
		b.WriteString(formatNotes(res.Notes))
	} else {
		b.WriteString("Note IDs:\n")
		b.WriteString(joinIDs(res.NoteIDs))
	}
	if res.HasMore {
		fmt.Fprintf(&b, "\n\nMore results available. Use offset=%d to see next page.", res.NextOffset)
	}
	return b.String()
}

func formatDeckStats(res DeckStatsResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stats for deck '%s':\n", res.DeckName)
	fmt.Fprintf(&b, "Total notes: %d", res.TotalNotes)
	keys := make([]string, 0, len(res.Stats))
	for k := range res.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, formatValue(res.Stats[k]))
	}
	return b.String()
}

// formatValue prints integral JSON numbers without an exponent.
func formatValue(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}

func deckLabel(deck string) string {
	if deck == "" {
		return "all decks"
	}
	return fmt.Sprintf("deck '%s'", deck)
}

func formatDueCards(res DueCardsResult) string {
	if res.TotalDue == 0 {
		return fmt.Sprintf("No cards due in %s", deckLabel(res.DeckName))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Due cards in %s:\n", deckLabel(res.DeckName))
	fmt.Fprintf(&b, "- New: %d\n", res.NewCards)
	fmt.Fprintf(&b, "- Learning: %d\n", res.LearningCards)
	fmt.Fprintf(&b, "- Review: %d\n", res.ReviewCards)
	fmt.Fprintf(&b, "- Total due: %d", res.TotalDue)
	if len(res.SampleNotes) > 0 {
		fmt.Fprintf(&b, "\n\nSample of due notes (%d):\n\n", len(res.SampleNotes))
		b.WriteString(formatNotes(res.SampleNotes))
	}
	return b.String()
}

func formatStudyProgress(p StudyProgress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Study progress for %s:\n", deckLabel(p.DeckName))
	fmt.Fprintf(&b, "- Total cards: %d\n", p.TotalCards)
	fmt.Fprintf(&b, "- New cards: %d (%.2f%%)\n", p.NewCards, p.NewPercent)
	fmt.Fprintf(&b, "- Young cards: %d\n", p.YoungCards)
	fmt.Fprintf(&b, "- Mature cards: %d (%.2f%%)\n", p.MatureCards, p.MaturePercent)
	fmt.Fprintf(&b, "- Reviewed in the last %d days: %d", p.Days, p.RecentReviews)
	return b.String()
}

func formatReviewHistory(h ReviewHistory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review history for %s (last %d days):\n", deckLabel(h.DeckName), h.Days)
	fmt.Fprintf(&b, "- Total reviews: %d\n", h.TotalReviews)
	fmt.Fprintf(&b, "- Again: %d\n", h.Again)
	fmt.Fprintf(&b, "- Hard: %d\n", h.Hard)
	fmt.Fprintf(&b, "- Good: %d\n", h.Good)
	fmt.Fprintf(&b, "- Easy: %d\n", h.Easy)
	fmt.Fprintf(&b, "- Success rate: %.2f%%\n", h.SuccessRate)
	fmt.Fprintf(&b, "- Studied cards: %d", h.StudiedCards)
	return b.String()
}

func formatNoteTypes(types []NoteType) string {
	if len(types) == 0 {
		return "No note types found"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d note types:", len(types))
	for _, t := range types {
		fields := strings.Join(t.Fields, ", ")
		if t.Err != nil {
			fields = "(failed to load fields)"
		}
		fmt.Fprintf(&b, "\n- %s: %s", t.Name, fields)
	}
	return b.String()
}

func formatServerInfo(info ServerInfo) string {
	var b strings.Builder
	b.WriteString("anki-mcp " + serverVersion + "\n")
	if info.Connected {
		fmt.Fprintf(&b, "AnkiConnect: connected (version %s)\n", info.Version)
	} else {
		b.WriteString("AnkiConnect: not connected\n")
	}
	b.WriteString("Configuration:")
	keys := make([]string, 0, len(info.Config))
	for k := range info.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, info.Config[k])
	}
	return b.String()
}
