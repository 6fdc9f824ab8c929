package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/danieldreier/anki-mcp/internal/ankiconnect"
	"github.com/danieldreier/anki-mcp/internal/config"
	"go.uber.org/zap"
)

const (
	// exportSuffix is appended to the deck name to build the export path.
	exportSuffix = "_export.apkg"

	dueCardSample   = 50
	dueNoteSample   = 20
	noteTypesLimit  = 20
	matureInterval  = 21
	modelNamesShown = 10
)

// clientSource hands out the shared AnkiConnect client.
type clientSource interface {
	Acquire(ctx context.Context) (*ankiconnect.Invoker, error)
	Status(ctx context.Context) ankiconnect.Status
}

// AnkiService implements the tool operations on top of AnkiConnect.
type AnkiService struct {
	Clients clientSource
	Config  *config.Config
	Logger  *zap.Logger
}

// NewAnkiService creates a new AnkiService
func NewAnkiService(clients clientSource, cfg *config.Config, logger *zap.Logger) *AnkiService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnkiService{Clients: clients, Config: cfg, Logger: logger}
}

func (s *AnkiService) client(ctx context.Context) (ankiconnect.Caller, error) {
	inv, err := s.Clients.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func deckQuery(deck string) string {
	return fmt.Sprintf("deck:%q", deck)
}

// withFilter appends extra search terms to an optional deck filter.
func withFilter(deck string, terms ...string) string {
	parts := make([]string, 0, len(terms)+1)
	if deck != "" {
		parts = append(parts, deckQuery(deck))
	}
	parts = append(parts, terms...)
	return strings.Join(parts, " ")
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// DeckNames lists every deck.
func (s *AnkiService) DeckNames(ctx context.Context) ([]string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	return ankiconnect.Call[[]string](ctx, c, "deckNames", nil)
}

// CreateDeck creates a deck and returns its id. Existing decks are kept.
func (s *AnkiService) CreateDeck(ctx context.Context, name string) (int64, error) {
	c, err := s.client(ctx)
	if err != nil {
		return 0, err
	}
	id, err := ankiconnect.Call[int64](ctx, c, "createDeck", map[string]any{"deck": name})
	if err != nil {
		return 0, err
	}
	s.Logger.Info("Deck created", zap.String("deck", name), zap.Int64("deck_id", id))
	return id, nil
}

// AddNote adds a two-sided note. An empty noteType uses the configured default.
func (s *AnkiService) AddNote(ctx context.Context, deck, front, back, noteType string, tags []string) (int64, error) {
	if noteType == "" {
		noteType = s.Config.DefaultNoteType
	}
	c, err := s.client(ctx)
	if err != nil {
		return 0, err
	}
	note := NewNote{
		DeckName:  deck,
		ModelName: noteType,
		Fields:    map[string]string{"Front": front, "Back": back},
		Tags:      nonNilStrings(tags),
	}
	id, err := ankiconnect.Call[int64](ctx, c, "addNote", map[string]any{"note": note})
	if err != nil {
		return 0, err
	}
	s.Logger.Info("Note added", zap.String("deck", deck), zap.String("model", noteType), zap.Int64("note_id", id))
	return id, nil
}

// FindNotes runs a search and returns one page of it. A zero limit only
// counts matches.
func (s *AnkiService) FindNotes(ctx context.Context, query string, limit, offset int, withContent bool) (FindNotesResult, error) {
	res := FindNotesResult{Query: query, Offset: offset, Limit: limit, WithContent: withContent}
	c, err := s.client(ctx)
	if err != nil {
		return res, err
	}
	ids, err := ankiconnect.Call[[]int64](ctx, c, "findNotes", map[string]any{"query": query})
	if err != nil {
		return res, err
	}
	res.TotalCount = len(ids)
	if limit == 0 || offset >= len(ids) {
		return res, nil
	}

	end := min(offset+limit, len(ids))
	res.NoteIDs = ids[offset:end]
	res.HasMore = end < len(ids)
	res.NextOffset = end
	if !withContent {
		return res, nil
	}
	res.Notes, err = ankiconnect.Call[[]NoteInfo](ctx, c, "notesInfo", map[string]any{"notes": res.NoteIDs})
	return res, err
}

// NotesInfo fetches notes by id.
func (s *AnkiService) NotesInfo(ctx context.Context, ids []int64) ([]NoteInfo, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	return ankiconnect.Call[[]NoteInfo](ctx, c, "notesInfo", map[string]any{"notes": ids})
}

// DeckStats returns the scheduler counts of one deck. getDeckStats keys
// its result by deck id, so the entry is located by name.
func (s *AnkiService) DeckStats(ctx context.Context, deck string) (DeckStatsResult, error) {
	res := DeckStatsResult{DeckName: deck}
	c, err := s.client(ctx)
	if err != nil {
		return res, err
	}
	all, err := ankiconnect.Call[map[string]map[string]any](ctx, c, "getDeckStats", map[string]any{"decks": []string{deck}})
	if err != nil {
		return res, err
	}
	for _, entry := range all {
		if name, _ := entry["name"].(string); name == deck {
			res.Stats = entry
			break
		}
	}
	if res.Stats == nil {
		return res, ankiconnect.Validationf("deck '%s' was not found", deck)
	}
	delete(res.Stats, "name")

	notes, err := ankiconnect.Call[[]int64](ctx, c, "findNotes", map[string]any{"query": deckQuery(deck)})
	if err != nil {
		return res, err
	}
	res.TotalNotes = len(notes)
	return res, nil
}

// Sync asks Anki to synchronise with AnkiWeb.
func (s *AnkiService) Sync(ctx context.Context) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	_, err = c.Invoke(ctx, "sync", nil)
	return err
}

// ServerInfo reports the configuration and whether AnkiConnect answers.
// An unreachable AnkiConnect is part of the report, not an error.
func (s *AnkiService) ServerInfo(ctx context.Context) ServerInfo {
	st := s.Clients.Status(ctx)
	if st.Err != nil {
		s.Logger.Warn("AnkiConnect status check failed", zap.Error(st.Err))
	}
	return ServerInfo{Config: s.Config.Summary(), Connected: st.Connected, Version: st.Version}
}

// UpdateNote replaces the given fields of a note and, when tags is not
// nil, its tags.
func (s *AnkiService) UpdateNote(ctx context.Context, id int64, fields map[string]string, tags *[]string) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	note := map[string]any{"id": id, "fields": fields}
	if _, err := c.Invoke(ctx, "updateNoteFields", map[string]any{"note": note}); err != nil {
		return err
	}
	if tags != nil {
		if _, err := c.Invoke(ctx, "updateNoteTags", map[string]any{"note": id, "tags": nonNilStrings(*tags)}); err != nil {
			return err
		}
	}
	s.Logger.Info("Note updated", zap.Int64("note_id", id), zap.Bool("tags_replaced", tags != nil))
	return nil
}

// DeleteNotes deletes notes and their cards.
func (s *AnkiService) DeleteNotes(ctx context.Context, ids []int64) error {
	c, err := s.client(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Invoke(ctx, "deleteNotes", map[string]any{"notes": ids}); err != nil {
		return err
	}
	s.Logger.Info("Notes deleted", zap.Int("count", len(ids)))
	return nil
}

// cardsOfNotes collects the card ids of every note.
func cardsOfNotes(ctx context.Context, c ankiconnect.Caller, ids []int64) ([]int64, error) {
	var cards []int64
	for _, id := range ids {
		found, err := ankiconnect.Call[[]int64](ctx, c, "findCards", map[string]any{"query": fmt.Sprintf("nid:%d", id)})
		if err != nil {
			return nil, err
		}
		cards = append(cards, found...)
	}
	return cards, nil
}

// MoveNotes moves every card of the notes to deck and returns the
// number of cards moved.
func (s *AnkiService) MoveNotes(ctx context.Context, ids []int64, deck string) (int, error) {
	c, err := s.client(ctx)
	if err != nil {
		return 0, err
	}
	cards, err := cardsOfNotes(ctx, c, ids)
	if err != nil {
		return 0, err
	}
	if len(cards) == 0 {
		return 0, ankiconnect.Validationf("no cards found for the given notes")
	}
	if _, err := c.Invoke(ctx, "changeDeck", map[string]any{"cards": cards, "deck": deck}); err != nil {
		return 0, err
	}
	s.Logger.Info("Notes moved", zap.Int("notes", len(ids)), zap.Int("cards", len(cards)), zap.String("deck", deck))
	return len(cards), nil
}

// SuspendNotes suspends or unsuspends every card of the notes.
func (s *AnkiService) SuspendNotes(ctx context.Context, ids []int64, suspend bool) (int, error) {
	c, err := s.client(ctx)
	if err != nil {
		return 0, err
	}
	cards, err := cardsOfNotes(ctx, c, ids)
	if err != nil {
		return 0, err
	}
	if len(cards) == 0 {
		return 0, ankiconnect.Validationf("no cards found for the given notes")
	}
	action := "unsuspend"
	if suspend {
		action = "suspend"
	}
	if _, err := c.Invoke(ctx, action, map[string]any{"cards": cards}); err != nil {
		return 0, err
	}
	return len(cards), nil
}

func countCards(ctx context.Context, c ankiconnect.Caller, query string) (int, error) {
	ids, err := ankiconnect.Call[[]int64](ctx, c, "findCards", map[string]any{"query": query})
	return len(ids), err
}

// DueCards counts due cards by queue and samples the notes behind them.
func (s *AnkiService) DueCards(ctx context.Context, deck string) (DueCardsResult, error) {
	res := DueCardsResult{DeckName: deck}
	c, err := s.client(ctx)
	if err != nil {
		return res, err
	}
	query := withFilter(deck, "is:due")
	due, err := ankiconnect.Call[[]int64](ctx, c, "findCards", map[string]any{"query": query})
	if err != nil {
		return res, err
	}
	res.TotalDue = len(due)
	if len(due) == 0 {
		return res, nil
	}

	res.SampleCards, err = ankiconnect.Call[[]CardInfo](ctx, c, "cardsInfo", map[string]any{"cards": due[:min(len(due), dueCardSample)]})
	if err != nil {
		return res, err
	}
	var noteIDs []int64
	seen := map[int64]bool{}
	for _, card := range res.SampleCards {
		if card.Note == 0 || seen[card.Note] {
			continue
		}
		seen[card.Note] = true
		noteIDs = append(noteIDs, card.Note)
		if len(noteIDs) == dueNoteSample {
			break
		}
	}
	if len(noteIDs) > 0 {
		res.SampleNotes, err = ankiconnect.Call[[]NoteInfo](ctx, c, "notesInfo", map[string]any{"notes": noteIDs})
		if err != nil {
			return res, err
		}
	}

	for _, q := range []struct {
		term string
		dst  *int
	}{
		{"is:new", &res.NewCards},
		{"is:learn", &res.LearningCards},
		{"is:review", &res.ReviewCards},
	} {
		if *q.dst, err = countCards(ctx, c, query+" "+q.term); err != nil {
			return res, err
		}
	}
	return res, nil
}

// StudyProgress reports card maturity and reviews over the last days.
func (s *AnkiService) StudyProgress(ctx context.Context, deck string, days int) (StudyProgress, error) {
	p := StudyProgress{DeckName: deck, Days: days}
	c, err := s.client(ctx)
	if err != nil {
		return p, err
	}
	for _, q := range []struct {
		query string
		dst   *int
	}{
		{withFilter(deck), &p.TotalCards},
		{withFilter(deck, "is:new"), &p.NewCards},
		{withFilter(deck, fmt.Sprintf("prop:ivl>=%d", matureInterval)), &p.MatureCards},
		{withFilter(deck, fmt.Sprintf("prop:ivl<%d", matureInterval), "-is:new"), &p.YoungCards},
		{withFilter(deck, fmt.Sprintf("rated:%d", days)), &p.RecentReviews},
	} {
		if *q.dst, err = countCards(ctx, c, q.query); err != nil {
			return p, err
		}
	}
	p.MaturePercent = percent(p.MatureCards, p.TotalCards)
	p.NewPercent = percent(p.NewCards, p.TotalCards)
	return p, nil
}

// ReviewHistory counts reviews per answer button over the last days.
func (s *AnkiService) ReviewHistory(ctx context.Context, deck string, days int) (ReviewHistory, error) {
	h := ReviewHistory{DeckName: deck, Days: days}
	c, err := s.client(ctx)
	if err != nil {
		return h, err
	}
	for _, q := range []struct {
		query string
		dst   *int
	}{
		{withFilter(deck, fmt.Sprintf("rated:%d:1", days)), &h.Again},
		{withFilter(deck, fmt.Sprintf("rated:%d:2", days)), &h.Hard},
		{withFilter(deck, fmt.Sprintf("rated:%d:3", days)), &h.Good},
		{withFilter(deck, fmt.Sprintf("rated:%d:4", days)), &h.Easy},
		{withFilter(deck, fmt.Sprintf("rated:%d", days)), &h.TotalReviews},
		{withFilter(deck, "-is:new"), &h.StudiedCards},
	} {
		if *q.dst, err = countCards(ctx, c, q.query); err != nil {
			return h, err
		}
	}
	h.SuccessRate = percent(h.Good+h.Easy, h.TotalReviews)
	return h, nil
}

// BatchAddNotes adds notes of the default note type in one addNotes call.
// Rejected notes come back as null ids and are counted as failures.
func (s *AnkiService) BatchAddNotes(ctx context.Context, deck string, notes []BatchNote) (BatchAddResult, error) {
	res := BatchAddResult{Attempted: len(notes)}
	c, err := s.client(ctx)
	if err != nil {
		return res, err
	}
	payload := make([]NewNote, len(notes))
	for i, n := range notes {
		payload[i] = NewNote{
			DeckName:  deck,
			ModelName: s.Config.DefaultNoteType,
			Fields:    map[string]string{"Front": n.Front, "Back": n.Back},
			Tags:      nonNilStrings(n.Tags),
		}
	}
	ids, err := ankiconnect.Call[[]*int64](ctx, c, "addNotes", map[string]any{"notes": payload})
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if id == nil {
			res.Failed++
			continue
		}
		res.Succeeded = append(res.Succeeded, *id)
	}
	s.Logger.Info("Batch add finished", zap.String("deck", deck), zap.Int("succeeded", len(res.Succeeded)), zap.Int("failed", res.Failed))
	return res, nil
}

// BatchUpdateTags adds and removes tags note by note. A failing note is
// counted and skipped; cancellation stops the batch.
func (s *AnkiService) BatchUpdateTags(ctx context.Context, ids []int64, add, remove []string) (BatchTagsResult, error) {
	res := BatchTagsResult{Total: len(ids)}
	c, err := s.client(ctx)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if err := s.updateTags(ctx, c, id, add, remove); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.Logger.Warn("Tag update failed", zap.Int64("note_id", id), zap.Error(err))
			res.Failed++
			continue
		}
		res.Updated++
	}
	return res, nil
}

func (s *AnkiService) updateTags(ctx context.Context, c ankiconnect.Caller, id int64, add, remove []string) error {
	if len(add) > 0 {
		if _, err := c.Invoke(ctx, "addTags", map[string]any{"notes": []int64{id}, "tags": strings.Join(add, " ")}); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if _, err := c.Invoke(ctx, "removeTags", map[string]any{"notes": []int64{id}, "tags": strings.Join(remove, " ")}); err != nil {
			return err
		}
	}
	return nil
}

// ExportDeck writes deck to an .apkg package next to Anki's working
// directory and returns the path and the number of notes in the deck.
func (s *AnkiService) ExportDeck(ctx context.Context, deck string, includeMedia bool) (string, int, error) {
	path := deck + exportSuffix
	c, err := s.client(ctx)
	if err != nil {
		return "", 0, err
	}
	ok, err := ankiconnect.Call[bool](ctx, c, "exportPackage", map[string]any{
		"deck":         deck,
		"path":         path,
		"includeSched": true,
		"includeMedia": includeMedia,
	})
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, fmt.Errorf("export of deck '%s' failed", deck)
	}
	notes, err := ankiconnect.Call[[]int64](ctx, c, "findNotes", map[string]any{"query": deckQuery(deck)})
	if err != nil {
		return "", 0, err
	}
	s.Logger.Info("Deck exported", zap.String("deck", deck), zap.String("path", path), zap.Int("notes", len(notes)))
	return path, len(notes), nil
}

// ChangeNoteType re-creates notes under another note type. Fields are
// copied by name, or renamed through mapping when it is not empty. Each
// replacement keeps the deck of the original note's first card. An
// original is deleted only once its replacement was added.
func (s *AnkiService) ChangeNoteType(ctx context.Context, ids []int64, target string, mapping map[string]string) (ChangeNoteTypeResult, error) {
	res := ChangeNoteTypeResult{TargetModel: target, Processed: len(ids)}
	c, err := s.client(ctx)
	if err != nil {
		return res, err
	}

	models, err := ankiconnect.Call[[]string](ctx, c, "modelNames", nil)
	if err != nil {
		return res, err
	}
	if !slices.Contains(models, target) {
		shown := strings.Join(models[:min(len(models), modelNamesShown)], ", ")
		if len(models) > modelNamesShown {
			shown += "..."
		}
		return res, ankiconnect.Validationf("note type '%s' does not exist. Available types: %s", target, shown)
	}

	infos, err := ankiconnect.Call[[]NoteInfo](ctx, c, "notesInfo", map[string]any{"notes": ids})
	if err != nil {
		return res, err
	}
	var originals []NoteInfo
	for _, n := range infos {
		if n.NoteID != 0 {
			originals = append(originals, n)
		}
	}
	if len(originals) == 0 {
		return res, ankiconnect.Validationf("no notes found for the given ids")
	}
	res.OriginalModel = originals[0].ModelName

	decks, err := s.noteDecks(ctx, c, originals)
	if err != nil {
		return res, err
	}
	replacements := make([]NewNote, len(originals))
	for i, n := range originals {
		replacements[i] = NewNote{
			DeckName:  decks[n.NoteID],
			ModelName: target,
			Fields:    mapFields(n, mapping),
			Tags:      nonNilStrings(n.Tags),
		}
	}

	added, err := ankiconnect.Call[[]*int64](ctx, c, "addNotes", map[string]any{"notes": replacements})
	if err != nil {
		return res, err
	}
	var replaced []int64
	for i, id := range added {
		if id == nil || i >= len(originals) {
			res.Failed++
			continue
		}
		res.NewNoteIDs = append(res.NewNoteIDs, *id)
		replaced = append(replaced, originals[i].NoteID)
	}
	res.Failed += len(ids) - len(originals)
	if len(replaced) > 0 {
		if _, err := c.Invoke(ctx, "deleteNotes", map[string]any{"notes": replaced}); err != nil {
			return res, err
		}
	}
	s.Logger.Info("Note type changed",
		zap.String("from", res.OriginalModel), zap.String("to", target),
		zap.Int("converted", len(res.NewNoteIDs)), zap.Int("failed", res.Failed))
	return res, nil
}

// noteDecks maps each note to the deck of its first card.
func (s *AnkiService) noteDecks(ctx context.Context, c ankiconnect.Caller, notes []NoteInfo) (map[int64]string, error) {
	decks := make(map[int64]string, len(notes))
	var firstCards []int64
	for _, n := range notes {
		decks[n.NoteID] = "Default"
		if len(n.Cards) > 0 {
			firstCards = append(firstCards, n.Cards[0])
		}
	}
	if len(firstCards) == 0 {
		return decks, nil
	}
	cards, err := ankiconnect.Call[[]CardInfo](ctx, c, "cardsInfo", map[string]any{"cards": firstCards})
	if err != nil {
		return nil, err
	}
	for _, card := range cards {
		if card.Note != 0 && card.DeckName != "" {
			decks[card.Note] = card.DeckName
		}
	}
	return decks, nil
}

func mapFields(n NoteInfo, mapping map[string]string) map[string]string {
	out := map[string]string{}
	if len(mapping) == 0 {
		for name, f := range n.Fields {
			out[name] = f.Value
		}
		return out
	}
	for from, to := range mapping {
		if f, ok := n.Fields[from]; ok {
			out[to] = f.Value
		}
	}
	return out
}

// NoteTypes lists note types with their fields. A type whose fields
// cannot be loaded is still listed.
func (s *AnkiService) NoteTypes(ctx context.Context) ([]NoteType, error) {
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	names, err := ankiconnect.Call[[]string](ctx, c, "modelNames", nil)
	if err != nil {
		return nil, err
	}
	types := make([]NoteType, 0, min(len(names), noteTypesLimit))
	for _, name := range names[:min(len(names), noteTypesLimit)] {
		fields, err := ankiconnect.Call[[]string](ctx, c, "modelFieldNames", map[string]any{"modelName": name})
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		types = append(types, NoteType{Name: name, Fields: fields, Err: err})
	}
	return types, nil
}

// nonNilStrings keeps empty tag lists encoding as [] rather than null.
func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
