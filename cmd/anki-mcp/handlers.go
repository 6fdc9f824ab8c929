package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/danieldreier/anki-mcp/internal/ankiconnect"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

const (
	defaultFindLimit    = 20
	defaultProgressDays = 7
	defaultHistoryDays  = 30
	maxHistoryDays      = 365
)

// toolError logs a failed tool call and turns it into an MCP error result.
func (s *AnkiService) toolError(tool string, err error) *mcp.CallToolResult {
	if ankiconnect.IsValidation(err) {
		s.Logger.Debug("Rejected tool arguments", zap.String("tool", tool), zap.Error(err))
	} else {
		s.Logger.Error("Tool call failed", zap.String("tool", tool), zap.Error(err))
	}
	return mcp.NewToolResultError("Error: " + err.Error())
}

// handleGetDeckNames lists every deck.
func (s *AnkiService) handleGetDeckNames(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decks, err := s.DeckNames(ctx)
	if err != nil {
		return s.toolError("anki_get_deck_names", err), nil
	}
	if len(decks) == 0 {
		return mcp.NewToolResultText("No decks found"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d decks:", len(decks))
	for _, d := range decks {
		b.WriteString("\n- " + d)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *AnkiService) handleCreateDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_create_deck"
	deck, err := requiredString(request.Params.Arguments, "deck_name")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	if _, err := s.CreateDeck(ctx, deck); err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deck '%s' created", deck)), nil
}

// handleAddNote adds a note with front and back fields. note_type
// defaults to the configured note type.
func (s *AnkiService) handleAddNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_add_note"
	args := request.Params.Arguments
	deck, err := requiredString(args, "deck_name")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	front, err := requiredText(args, "front")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	back, err := requiredText(args, "back")
	if err != nil {
		return s.toolError(tool, err), nil
	}

	id, err := s.AddNote(ctx, deck, front, back, optionalString(args, "note_type"), stringList(args, "tags"))
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Note added to '%s', ID: %d", deck, id)), nil
}

// pageArgs reads limit and offset, both of which must be non-negative.
func pageArgs(args map[string]interface{}) (int, int, error) {
	limit, err := intArg(args, "limit", defaultFindLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err := intArg(args, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit < 0 {
		return 0, 0, ankiconnect.Validationf("limit must not be negative")
	}
	if offset < 0 {
		return 0, 0, ankiconnect.Validationf("offset must not be negative")
	}
	return limit, offset, nil
}

func (s *AnkiService) findNotes(ctx context.Context, tool, query string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	limit, offset, err := pageArgs(args)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	res, err := s.FindNotes(ctx, query, limit, offset, boolArg(args, "with_content", true))
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(formatFindNotes(res)), nil
}

// handleFindNotes searches notes with Anki search syntax and pages the result.
func (s *AnkiService) handleFindNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_find_notes"
	query, err := requiredString(request.Params.Arguments, "query")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return s.findNotes(ctx, tool, query, request.Params.Arguments)
}

func (s *AnkiService) handleViewDeckContents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_view_deck_contents"
	deck, err := requiredString(request.Params.Arguments, "deck_name")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	args := map[string]interface{}{"with_content": true}
	for _, k := range []string{"limit", "offset"} {
		if v, ok := request.Params.Arguments[k]; ok {
			args[k] = v
		}
	}
	return s.findNotes(ctx, tool, deckQuery(deck), args)
}

func (s *AnkiService) handleGetNoteInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_get_note_info"
	ids, err := idList(request.Params.Arguments, "note_ids")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	notes, err := s.NotesInfo(ctx, ids)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	text := formatNotes(notes)
	if text == "" {
		text = "No notes found"
	}
	return mcp.NewToolResultText(text), nil
}

func (s *AnkiService) handleGetDeckStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_get_deck_stats"
	deck, err := requiredString(request.Params.Arguments, "deck_name")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	res, err := s.DeckStats(ctx, deck)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(formatDeckStats(res)), nil
}

func (s *AnkiService) handleSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.Sync(ctx); err != nil {
		return s.toolError("anki_sync", err), nil
	}
	return mcp.NewToolResultText("Sync completed"), nil
}

// handleGetServerInfo never fails: an unreachable AnkiConnect is reported
// in the text.
func (s *AnkiService) handleGetServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatServerInfo(s.ServerInfo(ctx))), nil
}

// handleUpdateNote replaces fields and, when tags is given, the whole tag list.
func (s *AnkiService) handleUpdateNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_update_note"
	args := request.Params.Arguments
	id, err := positiveID(args, "note_id")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	fields, err := stringMap(args, "fields")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	if len(fields) == 0 {
		return s.toolError(tool, ankiconnect.Validationf("fields must not be empty")), nil
	}
	var tags *[]string
	if _, ok := args["tags"].([]interface{}); ok {
		list := stringList(args, "tags")
		tags = &list
	}

	if err := s.UpdateNote(ctx, id, fields, tags); err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Note %d updated", id)), nil
}

func (s *AnkiService) handleDeleteNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_delete_notes"
	ids, err := idList(request.Params.Arguments, "note_ids")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	if err := s.DeleteNotes(ctx, ids); err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %d notes", len(ids))), nil
}

func (s *AnkiService) handleMoveNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_move_notes"
	args := request.Params.Arguments
	ids, err := idList(args, "note_ids")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	deck, err := requiredString(args, "target_deck")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	cards, err := s.MoveNotes(ctx, ids, deck)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Moved %d notes to '%s' (%d cards)", len(ids), deck, cards)), nil
}

func (s *AnkiService) handleSuspendNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_suspend_notes"
	args := request.Params.Arguments
	ids, err := idList(args, "note_ids")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	suspend := boolArg(args, "suspend", true)
	cards, err := s.SuspendNotes(ctx, ids, suspend)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	verb := "Unsuspended"
	if suspend {
		verb = "Suspended"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s %d notes (%d cards)", verb, len(ids), cards)), nil
}

func (s *AnkiService) handleGetDueCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.DueCards(ctx, optionalString(request.Params.Arguments, "deck_name"))
	if err != nil {
		return s.toolError("anki_get_due_cards", err), nil
	}
	return mcp.NewToolResultText(formatDueCards(res)), nil
}

func (s *AnkiService) handleGetStudyProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_get_study_progress"
	args := request.Params.Arguments
	days, err := intArg(args, "days", defaultProgressDays)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	if days <= 0 {
		return s.toolError(tool, ankiconnect.Validationf("days must be positive")), nil
	}
	p, err := s.StudyProgress(ctx, optionalString(args, "deck_name"), days)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(formatStudyProgress(p)), nil
}

func (s *AnkiService) handleGetReviewHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_get_review_history"
	args := request.Params.Arguments
	days, err := intArg(args, "days", defaultHistoryDays)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	if days < 1 || days > maxHistoryDays {
		return s.toolError(tool, ankiconnect.Validationf("days must be between 1 and %d", maxHistoryDays)), nil
	}
	h, err := s.ReviewHistory(ctx, optionalString(args, "deck_name"), days)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(formatReviewHistory(h)), nil
}

// batchNotes reads the notes_data array; every entry needs front and back.
func batchNotes(args map[string]interface{}) ([]BatchNote, error) {
	raw, _ := args["notes_data"].([]interface{})
	if len(raw) == 0 {
		return nil, ankiconnect.Validationf("notes_data must not be empty")
	}
	notes := make([]BatchNote, 0, len(raw))
	for i, v := range raw {
		entry, ok := v.(map[string]interface{})
		if !ok {
			return nil, ankiconnect.Validationf("note %d must be an object", i+1)
		}
		front, errFront := requiredText(entry, "front")
		back, errBack := requiredText(entry, "back")
		if errFront != nil || errBack != nil {
			return nil, ankiconnect.Validationf("note %d is missing front or back", i+1)
		}
		notes = append(notes, BatchNote{Front: front, Back: back, Tags: stringList(entry, "tags")})
	}
	return notes, nil
}

func (s *AnkiService) handleBatchAddNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_batch_add_notes"
	args := request.Params.Arguments
	deck, err := requiredString(args, "deck_name")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	notes, err := batchNotes(args)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	res, err := s.BatchAddNotes(ctx, deck, notes)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	text := fmt.Sprintf("Batch add finished: %d succeeded, %d failed", len(res.Succeeded), res.Failed)
	if len(res.Succeeded) > 0 {
		text += "\nNew note IDs: " + joinIDs(res.Succeeded)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *AnkiService) handleBatchUpdateTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_batch_update_tags"
	args := request.Params.Arguments
	ids, err := idList(args, "note_ids")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	add, remove := stringList(args, "add_tags"), stringList(args, "remove_tags")
	if len(add) == 0 && len(remove) == 0 {
		return s.toolError(tool, ankiconnect.Validationf("add_tags or remove_tags must be given")), nil
	}
	res, err := s.BatchUpdateTags(ctx, ids, add, remove)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Tags updated on %d of %d notes (%d failed)", res.Updated, res.Total, res.Failed)), nil
}

func (s *AnkiService) handleExportDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_export_deck"
	args := request.Params.Arguments
	deck, err := requiredString(args, "deck_name")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	path, notes, err := s.ExportDeck(ctx, deck, boolArg(args, "include_media", false))
	if err != nil {
		return s.toolError(tool, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Deck '%s' exported to %s (%d notes)", deck, path, notes)), nil
}

func (s *AnkiService) handleChangeNoteType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "anki_change_note_type"
	args := request.Params.Arguments
	ids, err := idList(args, "note_ids")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	target, err := requiredString(args, "target_model")
	if err != nil {
		return s.toolError(tool, err), nil
	}
	mapping, err := stringMap(args, "field_mapping")
	if err != nil {
		return s.toolError(tool, err), nil
	}

	res, err := s.ChangeNoteType(ctx, ids, target, mapping)
	if err != nil {
		return s.toolError(tool, err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Changed %d of %d notes from '%s' to '%s' (%d failed)",
		len(res.NewNoteIDs), res.Processed, res.OriginalModel, res.TargetModel, res.Failed)
	if len(res.NewNoteIDs) > 0 {
		b.WriteString("\nNew note IDs: " + joinIDs(res.NewNoteIDs))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *AnkiService) handleGetNoteTypes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, err := s.NoteTypes(ctx)
	if err != nil {
		return s.toolError("anki_get_note_types", err), nil
	}
	return mcp.NewToolResultText(formatNoteTypes(types)), nil
}
