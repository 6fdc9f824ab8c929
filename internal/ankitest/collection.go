// Package ankitest provides an in-memory AnkiConnect server for tests.
package ankitest

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Queue mirrors the scheduling queue of an Anki card.
type Queue int

const (
	QueueNew Queue = iota
	QueueLearn
	QueueReview
)

// Note is a stored note.
type Note struct {
	ID     int64
	Model  string
	Fields map[string]string
	Tags   []string
	Cards  []int64
}

// Card is a stored card.
type Card struct {
	ID        int64
	NoteID    int64
	Deck      string
	Queue     Queue
	Interval  int
	Due       bool
	Suspended bool
}

// ErrNoteNotFound is returned when a note id is unknown.
var ErrNoteNotFound = errors.New("note was not found")

// Collection is the in-memory state behind the fake server.
type Collection struct {
	mu     sync.RWMutex
	nextID int64
	decks  map[string]int64
	models map[string][]string
	notes  map[int64]*Note
	cards  map[int64]*Card
}

// NewCollection returns a collection with a Default deck and the stock
// Basic and Cloze note types.
func NewCollection() *Collection {
	c := &Collection{
		nextID: 1500000000000,
		decks:  map[string]int64{},
		models: map[string][]string{
			"Basic":                     {"Front", "Back"},
			"Basic (and reversed card)": {"Front", "Back"},
			"Cloze":                     {"Text", "Back Extra"},
		},
		notes: map[int64]*Note{},
		cards: map[int64]*Card{},
	}
	c.decks["Default"] = c.newID()
	return c
}

func (c *Collection) newID() int64 {
	c.nextID++
	return c.nextID
}

// CreateDeck returns the id of name, creating it if needed.
func (c *Collection) CreateDeck(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureDeck(name)
}

func (c *Collection) ensureDeck(name string) int64 {
	if id, ok := c.decks[name]; ok {
		return id
	}
	id := c.newID()
	c.decks[name] = id
	return id
}

// DeckNames lists decks alphabetically.
func (c *Collection) DeckNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.decks))
	for name := range c.decks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeckID returns the id of a deck.
func (c *Collection) DeckID(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.decks[name]
	return id, ok
}

// ModelNames lists note types alphabetically.
func (c *Collection) ModelNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelFieldNames returns the field names of a note type.
func (c *Collection) ModelFieldNames(model string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields, ok := c.models[model]
	if !ok {
		return nil, fmt.Errorf("model was not found: %s", model)
	}
	return append([]string(nil), fields...), nil
}

// AddNote stores a note with one card, with AnkiConnect's rejections for
// unknown decks and models, empty notes and duplicates.
func (c *Collection) AddNote(deck, model string, fields map[string]string, tags []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.decks[deck]; !ok {
		return 0, fmt.Errorf("deck was not found: %s", deck)
	}
	names, ok := c.models[model]
	if !ok {
		return 0, fmt.Errorf("model was not found: %s", model)
	}
	first := strings.TrimSpace(fields[names[0]])
	if first == "" {
		return 0, errors.New("cannot create note because it is empty")
	}
	for _, n := range c.notes {
		if n.Model == model && n.Fields[names[0]] == fields[names[0]] {
			return 0, errors.New("cannot create note because it is a duplicate")
		}
	}

	note := &Note{ID: c.newID(), Model: model, Fields: map[string]string{}, Tags: normalizeTags(tags)}
	for _, name := range names {
		note.Fields[name] = fields[name]
	}
	card := &Card{ID: c.newID(), NoteID: note.ID, Deck: deck, Queue: QueueNew}
	note.Cards = []int64{card.ID}
	c.notes[note.ID] = note
	c.cards[card.ID] = card
	return note.ID, nil
}

// Note returns a copy of a stored note.
func (c *Collection) Note(id int64) (Note, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.notes[id]
	if !ok {
		return Note{}, ErrNoteNotFound
	}
	return copyNote(n), nil
}

// Card returns a copy of a stored card.
func (c *Collection) Card(id int64) (Card, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	card, ok := c.cards[id]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// NoteCount returns the number of stored notes.
func (c *Collection) NoteCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.notes)
}

// UpdateFields overwrites the given fields of a note.
func (c *Collection) UpdateFields(id int64, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.notes[id]
	if !ok {
		return ErrNoteNotFound
	}
	for name, value := range fields {
		if _, known := n.Fields[name]; !known {
			continue
		}
		n.Fields[name] = value
	}
	return nil
}

// SetTags replaces the tags of a note.
func (c *Collection) SetTags(id int64, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.notes[id]
	if !ok {
		return ErrNoteNotFound
	}
	n.Tags = normalizeTags(tags)
	return nil
}

// AddTags adds tags to each note.
func (c *Collection) AddTags(ids []int64, tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if n, ok := c.notes[id]; ok {
			n.Tags = normalizeTags(append(n.Tags, tags...))
		}
	}
}

// RemoveTags removes tags from each note.
func (c *Collection) RemoveTags(ids []int64, tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	drop := map[string]bool{}
	for _, t := range tags {
		drop[t] = true
	}
	for _, id := range ids {
		n, ok := c.notes[id]
		if !ok {
			continue
		}
		kept := n.Tags[:0]
		for _, t := range n.Tags {
			if !drop[t] {
				kept = append(kept, t)
			}
		}
		n.Tags = kept
	}
}

// DeleteNotes removes notes and their cards. Unknown ids are ignored.
func (c *Collection) DeleteNotes(ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		n, ok := c.notes[id]
		if !ok {
			continue
		}
		for _, cid := range n.Cards {
			delete(c.cards, cid)
		}
		delete(c.notes, id)
	}
}

// ChangeDeck moves cards, creating the deck if needed.
func (c *Collection) ChangeDeck(cardIDs []int64, deck string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureDeck(deck)
	for _, id := range cardIDs {
		if card, ok := c.cards[id]; ok {
			card.Deck = deck
		}
	}
}

// SetSuspended suspends or unsuspends cards.
func (c *Collection) SetSuspended(cardIDs []int64, suspended bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := false
	for _, id := range cardIDs {
		if card, ok := c.cards[id]; ok {
			card.Suspended = suspended
			changed = true
		}
	}
	return changed
}

// SetSchedule changes the scheduling state of a card.
func (c *Collection) SetSchedule(cardID int64, queue Queue, interval int, due bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	card, ok := c.cards[cardID]
	if !ok {
		return fmt.Errorf("card was not found: %d", cardID)
	}
	card.Queue = queue
	card.Interval = interval
	card.Due = due
	return nil
}

// FindCards evaluates a search query over cards.
func (c *Collection) FindCards(query string) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	terms := parseQuery(query)
	var ids []int64
	for _, card := range c.cards {
		if c.matches(card, terms) {
			ids = append(ids, card.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FindNotes returns notes with at least one card matching query.
func (c *Collection) FindNotes(query string) []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	terms := parseQuery(query)
	seen := map[int64]bool{}
	var ids []int64
	for _, card := range c.cards {
		if !seen[card.NoteID] && c.matches(card, terms) {
			seen[card.NoteID] = true
			ids = append(ids, card.NoteID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type term struct {
	negate bool
	key    string
	value  string
}

func parseQuery(q string) []term {
	var terms []term
	for _, tok := range tokenize(q) {
		t := term{}
		if strings.HasPrefix(tok, "-") {
			t.negate = true
			tok = tok[1:]
		}
		if key, value, ok := strings.Cut(tok, ":"); ok {
			t.key = strings.ToLower(key)
			t.value = strings.Trim(value, `"`)
		} else {
			t.value = strings.Trim(tok, `"`)
		}
		terms = append(terms, t)
	}
	return terms
}

// tokenize splits on spaces outside double quotes.
func tokenize(q string) []string {
	var out []string
	var cur strings.Builder
	quoted := false
	for _, r := range q {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ' ' && !quoted:
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func (c *Collection) matches(card *Card, terms []term) bool {
	for _, t := range terms {
		if c.matchTerm(card, t) == t.negate {
			return false
		}
	}
	return true
}

func (c *Collection) matchTerm(card *Card, t term) bool {
	note := c.notes[card.NoteID]
	switch t.key {
	case "deck":
		return card.Deck == t.value || strings.HasPrefix(card.Deck, t.value+"::")
	case "nid":
		return idListContains(t.value, card.NoteID)
	case "cid":
		return idListContains(t.value, card.ID)
	case "tag":
		for _, tag := range note.Tags {
			if strings.EqualFold(tag, t.value) {
				return true
			}
		}
		return false
	case "note":
		return note.Model == t.value
	case "is":
		switch t.value {
		case "due":
			return card.Due && !card.Suspended
		case "new":
			return card.Queue == QueueNew
		case "learn":
			return card.Queue == QueueLearn
		case "review":
			return card.Queue == QueueReview
		case "suspended":
			return card.Suspended
		}
		return false
	case "rated":
		// No review history is kept.
		return false
	case "prop":
		return matchProp(card, t.value)
	case "":
		needle := strings.ToLower(t.value)
		for _, v := range note.Fields {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	}
	return false
}

func idListContains(list string, id int64) bool {
	for _, part := range strings.Split(list, ",") {
		if n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil && n == id {
			return true
		}
	}
	return false
}

// matchProp understands ivl comparisons such as ivl>=21.
func matchProp(card *Card, expr string) bool {
	rest, ok := strings.CutPrefix(expr, "ivl")
	if !ok {
		return false
	}
	for _, op := range []string{">=", "<=", ">", "<", "="} {
		if num, found := strings.CutPrefix(rest, op); found {
			n, err := strconv.Atoi(num)
			if err != nil {
				return false
			}
			switch op {
			case ">=":
				return card.Interval >= n
			case "<=":
				return card.Interval <= n
			case ">":
				return card.Interval > n
			case "<":
				return card.Interval < n
			default:
				return card.Interval == n
			}
		}
	}
	return false
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range tags {
		for _, part := range strings.Fields(t) {
			if !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	sort.Strings(out)
	return out
}

func copyNote(n *Note) Note {
	out := *n
	out.Fields = make(map[string]string, len(n.Fields))
	for k, v := range n.Fields {
		out.Fields[k] = v
	}
	out.Tags = append([]string{}, n.Tags...)
	out.Cards = append([]int64(nil), n.Cards...)
	return out
}
