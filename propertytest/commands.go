package propertytest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
	"github.com/mark3labs/mcp-go/client"
)

// --- System Under Test Definition ---

// AnkiSUT is one anki-mcp process and the fake AnkiConnect it talks to.
// IDs holds the real note id of every accepted AddNoteCmd, in order, so
// model slots resolve to real notes.
type AnkiSUT struct {
	Client *client.Client
	Anki   *ankitest.Server
	Ctx    context.Context
	Cancel context.CancelFunc
	IDs    []int64
	T      *testing.T
}

func (s *AnkiSUT) noteID(slot int) (int64, error) {
	if slot < 0 || slot >= len(s.IDs) {
		return 0, fmt.Errorf("slot %d has no note (have %d)", slot, len(s.IDs))
	}
	return s.IDs[slot], nil
}

func (s *AnkiSUT) call(name string, args map[string]interface{}) commands.Result {
	res, err := CallText(s.Ctx, s.Client, name, args)
	if err != nil {
		return err
	}
	return res
}

// ToolResult is what a command's Run hands to its PostCondition.
type ToolResult struct {
	Text    string
	IsError bool
}

// --- State Definition ---

// ModelNote is the model's view of one accepted note.
type ModelNote struct {
	Deck    string
	Front   string
	Back    string
	Tags    []string
	Deleted bool
}

// CommandState is the model collection. Notes are indexed by slot, the
// order in which AddNoteCmd was accepted.
type CommandState struct {
	Notes []ModelNote
	Decks map[string]bool
	// Rejection is the error the last AddNoteCmd should have produced.
	Rejection string
	T         *testing.T
}

// NewCommandState returns a model of a fresh collection.
func NewCommandState(t *testing.T) *CommandState {
	return &CommandState{
		Notes: []ModelNote{},
		Decks: map[string]bool{"Default": true},
		T:     t,
	}
}

func (s *CommandState) deepCopy() *CommandState {
	next := &CommandState{
		Notes:     make([]ModelNote, len(s.Notes)),
		Decks:     make(map[string]bool, len(s.Decks)),
		Rejection: s.Rejection,
		T:         s.T,
	}
	for i, n := range s.Notes {
		n.Tags = append([]string(nil), n.Tags...)
		next.Notes[i] = n
	}
	for k, v := range s.Decks {
		next.Decks[k] = v
	}
	return next
}

func (s *CommandState) live(slot int) bool {
	return slot >= 0 && slot < len(s.Notes) && !s.Notes[slot].Deleted
}

func (s *CommandState) liveSlots() []int {
	var slots []int
	for i, n := range s.Notes {
		if !n.Deleted {
			slots = append(slots, i)
		}
	}
	return slots
}

func (s *CommandState) countWhere(keep func(ModelNote) bool) int {
	n := 0
	for _, note := range s.Notes {
		if !note.Deleted && keep(note) {
			n++
		}
	}
	return n
}

// resultOf unwraps a Run result, logging transport failures.
func resultOf(state *CommandState, label string, result commands.Result) (ToolResult, bool) {
	if err, ok := result.(error); ok {
		state.T.Logf("%s: run failed: %v", label, err)
		return ToolResult{}, false
	}
	res, ok := result.(ToolResult)
	if !ok {
		state.T.Logf("%s: unexpected result type %T", label, result)
	}
	return res, ok
}

func expectText(state *CommandState, label string, result commands.Result, want string) *gopter.PropResult {
	res, ok := resultOf(state, label, result)
	if !ok {
		return gopter.NewPropResult(false, label)
	}
	if res.IsError || res.Text != want {
		state.T.Logf("%s: want %q, got %q (error=%v)", label, want, res.Text, res.IsError)
		return gopter.NewPropResult(false, label)
	}
	return gopter.NewPropResult(true, label)
}

// --- CreateDeckCmd ---

type CreateDeckCmd struct {
	Name string
}

func (c *CreateDeckCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return sut.(*AnkiSUT).call("anki_create_deck", map[string]interface{}{"deck_name": c.Name})
}

func (c *CreateDeckCmd) NextState(state commands.State) commands.State {
	next := state.(*CommandState).deepCopy()
	next.Decks[c.Name] = true
	return next
}

func (c *CreateDeckCmd) PreCondition(commands.State) bool { return true }

func (c *CreateDeckCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return expectText(state.(*CommandState), c.String(), result, fmt.Sprintf("Deck '%s' created", c.Name))
}

func (c *CreateDeckCmd) String() string { return fmt.Sprintf("CreateDeck(%q)", c.Name) }

// --- AddNoteCmd ---

type AddNoteCmd struct {
	Deck  string
	Front string
	Back  string
	Tags  []string
}

func (c *AddNoteCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*AnkiSUT)
	result := s.call("anki_add_note", map[string]interface{}{
		"deck_name": c.Deck,
		"front":     c.Front,
		"back":      c.Back,
		"tags":      InterfaceSlice(c.Tags),
	})
	res, ok := result.(ToolResult)
	if !ok || res.IsError {
		return result
	}
	var id int64
	prefix := fmt.Sprintf("Note added to '%s', ID: ", c.Deck)
	if _, err := fmt.Sscanf(strings.TrimPrefix(res.Text, prefix), "%d", &id); err != nil {
		return fmt.Errorf("add_note: cannot read id from %q: %w", res.Text, err)
	}
	s.IDs = append(s.IDs, id)
	return res
}

// rejection predicts AnkiConnect's answer to the note from the model.
func (c *AddNoteCmd) rejection(state *CommandState) string {
	if !state.Decks[c.Deck] {
		return "deck was not found"
	}
	if state.countWhere(func(n ModelNote) bool { return n.Front == c.Front }) > 0 {
		return "cannot create note because it is a duplicate"
	}
	return ""
}

func (c *AddNoteCmd) NextState(state commands.State) commands.State {
	current := state.(*CommandState)
	next := current.deepCopy()
	next.Rejection = c.rejection(current)
	if next.Rejection == "" {
		next.Notes = append(next.Notes, ModelNote{
			Deck:  c.Deck,
			Front: c.Front,
			Back:  c.Back,
			Tags:  append([]string(nil), c.Tags...),
		})
	}
	return next
}

func (c *AddNoteCmd) PreCondition(commands.State) bool { return true }

func (c *AddNoteCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	cmdState := state.(*CommandState)
	label := c.String()
	res, ok := resultOf(cmdState, label, result)
	if !ok {
		return gopter.NewPropResult(false, label)
	}
	if cmdState.Rejection == "" {
		want := fmt.Sprintf("Note added to '%s', ID: ", c.Deck)
		if res.IsError || !strings.HasPrefix(res.Text, want) {
			cmdState.T.Logf("%s: want %q..., got %q", label, want, res.Text)
			return gopter.NewPropResult(false, label)
		}
		return gopter.NewPropResult(true, label)
	}
	if !res.IsError || !strings.Contains(res.Text, cmdState.Rejection) {
		cmdState.T.Logf("%s: want error containing %q, got %q", label, cmdState.Rejection, res.Text)
		return gopter.NewPropResult(false, label)
	}
	return gopter.NewPropResult(true, label)
}

func (c *AddNoteCmd) String() string {
	return fmt.Sprintf("AddNote(Deck: %q, Front: %q, Back: %q, Tags: %v)", c.Deck, c.Front, c.Back, c.Tags)
}

// --- GetNoteInfoCmd ---

type GetNoteInfoCmd struct {
	Slot int
}

func (c *GetNoteInfoCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*AnkiSUT)
	id, err := s.noteID(c.Slot)
	if err != nil {
		return err
	}
	res, err := CallText(s.Ctx, s.Client, "anki_get_note_info", map[string]interface{}{"note_ids": []interface{}{id}})
	if err != nil {
		return err
	}
	// The id is only known to the SUT, so strip it before comparing.
	res.Text = strings.Replace(res.Text, fmt.Sprintf("<note id=%d>", id), "<note>", 1)
	return res
}

func (c *GetNoteInfoCmd) NextState(state commands.State) commands.State { return state }

func (c *GetNoteInfoCmd) PreCondition(state commands.State) bool {
	return state.(*CommandState).live(c.Slot)
}

func (c *GetNoteInfoCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	cmdState := state.(*CommandState)
	note := cmdState.Notes[c.Slot]
	want := fmt.Sprintf("<note>\nFront: %s\nBack: %s\n</note>", note.Front, note.Back)
	return expectText(cmdState, c.String(), result, want)
}

func (c *GetNoteInfoCmd) String() string { return fmt.Sprintf("GetNoteInfo(slot %d)", c.Slot) }

// --- DeleteNoteCmd ---

type DeleteNoteCmd struct {
	Slot int
}

func (c *DeleteNoteCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*AnkiSUT)
	id, err := s.noteID(c.Slot)
	if err != nil {
		return err
	}
	return s.call("anki_delete_notes", map[string]interface{}{"note_ids": []interface{}{id}})
}

func (c *DeleteNoteCmd) NextState(state commands.State) commands.State {
	next := state.(*CommandState).deepCopy()
	next.Notes[c.Slot].Deleted = true
	return next
}

func (c *DeleteNoteCmd) PreCondition(state commands.State) bool {
	return state.(*CommandState).live(c.Slot)
}

func (c *DeleteNoteCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return expectText(state.(*CommandState), c.String(), result, "Deleted 1 notes")
}

func (c *DeleteNoteCmd) String() string { return fmt.Sprintf("DeleteNote(slot %d)", c.Slot) }

// --- MoveNoteCmd ---

type MoveNoteCmd struct {
	Slot int
	Deck string
}

func (c *MoveNoteCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*AnkiSUT)
	id, err := s.noteID(c.Slot)
	if err != nil {
		return err
	}
	return s.call("anki_move_notes", map[string]interface{}{
		"note_ids":    []interface{}{id},
		"target_deck": c.Deck,
	})
}

func (c *MoveNoteCmd) NextState(state commands.State) commands.State {
	next := state.(*CommandState).deepCopy()
	next.Notes[c.Slot].Deck = c.Deck
	// changeDeck creates a missing target deck.
	next.Decks[c.Deck] = true
	return next
}

func (c *MoveNoteCmd) PreCondition(state commands.State) bool {
	return state.(*CommandState).live(c.Slot)
}

func (c *MoveNoteCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	want := fmt.Sprintf("Moved 1 notes to '%s' (1 cards)", c.Deck)
	return expectText(state.(*CommandState), c.String(), result, want)
}

func (c *MoveNoteCmd) String() string { return fmt.Sprintf("MoveNote(slot %d, %q)", c.Slot, c.Deck) }

// --- AddTagCmd ---

type AddTagCmd struct {
	Slot int
	Tag  string
}

func (c *AddTagCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*AnkiSUT)
	id, err := s.noteID(c.Slot)
	if err != nil {
		return err
	}
	return s.call("anki_batch_update_tags", map[string]interface{}{
		"note_ids": []interface{}{id},
		"add_tags": []interface{}{c.Tag},
	})
}

func (c *AddTagCmd) NextState(state commands.State) commands.State {
	next := state.(*CommandState).deepCopy()
	note := &next.Notes[c.Slot]
	note.Tags = append(note.Tags, c.Tag)
	return next
}

func (c *AddTagCmd) PreCondition(state commands.State) bool {
	return state.(*CommandState).live(c.Slot)
}

func (c *AddTagCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return expectText(state.(*CommandState), c.String(), result, "Tags updated on 1 of 1 notes (0 failed)")
}

func (c *AddTagCmd) String() string { return fmt.Sprintf("AddTag(slot %d, %q)", c.Slot, c.Tag) }

// --- CountDeckCmd ---

type CountDeckCmd struct {
	Deck string
}

func (c *CountDeckCmd) query() string { return fmt.Sprintf("deck:%q", c.Deck) }

func (c *CountDeckCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return sut.(*AnkiSUT).call("anki_find_notes", map[string]interface{}{"query": c.query(), "limit": 0})
}

func (c *CountDeckCmd) NextState(state commands.State) commands.State { return state }

func (c *CountDeckCmd) PreCondition(commands.State) bool { return true }

func (c *CountDeckCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	cmdState := state.(*CommandState)
	n := cmdState.countWhere(func(note ModelNote) bool { return note.Deck == c.Deck })
	return expectText(cmdState, c.String(), result, fmt.Sprintf("Found %d notes matching '%s'", n, c.query()))
}

func (c *CountDeckCmd) String() string { return fmt.Sprintf("CountDeck(%q)", c.Deck) }

// --- CountTagCmd ---

type CountTagCmd struct {
	Tag string
}

func (c *CountTagCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return sut.(*AnkiSUT).call("anki_find_notes", map[string]interface{}{"query": "tag:" + c.Tag, "limit": 0})
}

func (c *CountTagCmd) NextState(state commands.State) commands.State { return state }

func (c *CountTagCmd) PreCondition(commands.State) bool { return true }

func (c *CountTagCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	cmdState := state.(*CommandState)
	n := cmdState.countWhere(func(note ModelNote) bool { return HasTag(note.Tags, c.Tag) })
	return expectText(cmdState, c.String(), result, fmt.Sprintf("Found %d notes matching 'tag:%s'", n, c.Tag))
}

func (c *CountTagCmd) String() string { return fmt.Sprintf("CountTag(%q)", c.Tag) }

// --- Command generation ---

// GenCommand picks the next command for state. Slot-based commands only
// draw from live notes so generated sequences rarely fail preconditions.
func GenCommand(state commands.State) gopter.Gen {
	cmdState := state.(*CommandState)
	weighted := []gen.WeightedGen{
		{Weight: 2, Gen: GenDeck().Map(func(d string) commands.Command { return &CreateDeckCmd{Name: d} })},
		{Weight: 5, Gen: genAddNote()},
		{Weight: 1, Gen: GenDeck().Map(func(d string) commands.Command { return &CountDeckCmd{Deck: d} })},
		{Weight: 1, Gen: genTag().Map(func(tag string) commands.Command { return &CountTagCmd{Tag: tag} })},
	}
	if slots := cmdState.liveSlots(); len(slots) > 0 {
		slot := gen.IntRange(0, len(slots)-1).Map(func(i int) int { return slots[i] })
		weighted = append(weighted,
			gen.WeightedGen{Weight: 2, Gen: slot.Map(func(s int) commands.Command { return &GetNoteInfoCmd{Slot: s} })},
			gen.WeightedGen{Weight: 1, Gen: slot.Map(func(s int) commands.Command { return &DeleteNoteCmd{Slot: s} })},
			gen.WeightedGen{Weight: 2, Gen: gopter.CombineGens(slot, GenDeck()).Map(func(v []interface{}) commands.Command {
				return &MoveNoteCmd{Slot: v[0].(int), Deck: v[1].(string)}
			})},
			gen.WeightedGen{Weight: 2, Gen: gopter.CombineGens(slot, genTag()).Map(func(v []interface{}) commands.Command {
				return &AddTagCmd{Slot: v[0].(int), Tag: v[1].(string)}
			})},
		)
	}
	return gen.Weighted(weighted)
}

// genAddNote draws fronts from a short alphabet so duplicates turn up.
func genAddNote() gopter.Gen {
	return gopter.CombineGens(
		GenDeck(),
		GenNonEmptyString(3),
		GenNonEmptyString(20),
		GenTags(2, 8),
	).Map(func(v []interface{}) commands.Command {
		return &AddNoteCmd{
			Deck:  v[0].(string),
			Front: v[1].(string),
			Back:  v[2].(string),
			Tags:  v[3].([]string),
		}
	})
}

func genTag() gopter.Gen {
	return gen.OneConstOf("verb", "noun", "hard", "Verb")
}

// AnkiCommands builds the stateful command set for t.
func AnkiCommands(t *testing.T) *commands.ProtoCommands {
	return &commands.ProtoCommands{
		NewSystemUnderTestFunc: func(initialState commands.State) commands.SystemUnderTest {
			sut, err := SetupPropertyTestClient(t)
			if err != nil {
				t.Fatalf("Failed to set up system under test: %v", err)
			}
			return sut
		},
		DestroySystemUnderTestFunc: func(sut commands.SystemUnderTest) {
			s := sut.(*AnkiSUT)
			s.Client.Close()
			s.Cancel()
			s.Anki.Close()
		},
		InitialStateGen: func(*gopter.GenParameters) *gopter.GenResult {
			return gopter.NewGenResult(NewCommandState(t), gopter.NoShrinker)
		},
		InitialPreConditionFunc: func(commands.State) bool { return true },
		GenCommandFunc:          GenCommand,
	}
}
