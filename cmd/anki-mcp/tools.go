package main

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func noteIDsParam(description string) mcp.ToolOption {
	return mcp.WithArray("note_ids",
		mcp.Required(),
		mcp.Description(description),
	)
}

func optionalDeckParam() mcp.ToolOption {
	return mcp.WithString("deck_name",
		mcp.Description("Limit to this deck. All decks when omitted"),
	)
}

// registerTools adds every Anki tool to s with svc's handlers.
func registerTools(s *server.MCPServer, svc *AnkiService) {
	// Decks
	s.AddTool(mcp.NewTool("anki_get_deck_names",
		mcp.WithDescription("List all deck names"),
	), svc.handleGetDeckNames)

	s.AddTool(mcp.NewTool("anki_create_deck",
		mcp.WithDescription("Create a new deck. Creating an existing deck is a no-op"),
		mcp.WithString("deck_name", mcp.Required(), mcp.Description("Name of the deck, use :: for subdecks")),
	), svc.handleCreateDeck)

	s.AddTool(mcp.NewTool("anki_get_deck_stats",
		mcp.WithDescription("Get the scheduler counts and the number of notes of a deck"),
		mcp.WithString("deck_name", mcp.Required(), mcp.Description("Name of the deck")),
	), svc.handleGetDeckStats)

	s.AddTool(mcp.NewTool("anki_view_deck_contents",
		mcp.WithDescription("Show the notes of a deck, one page at a time"),
		mcp.WithString("deck_name", mcp.Required(), mcp.Description("Name of the deck")),
		mcp.WithNumber("limit", mcp.Description("Number of notes to show (default 20)")),
		mcp.WithNumber("offset", mcp.Description("Number of notes to skip (default 0)")),
	), svc.handleViewDeckContents)

	s.AddTool(mcp.NewTool("anki_export_deck",
		mcp.WithDescription("Export a deck to an .apkg package named <deck>_export.apkg"),
		mcp.WithString("deck_name", mcp.Required(), mcp.Description("Name of the deck")),
		mcp.WithBoolean("include_media", mcp.Description("Include media files (default false)")),
	), svc.handleExportDeck)

	// Notes
	s.AddTool(mcp.NewTool("anki_add_note",
		mcp.WithDescription("Add a note with a front and a back"),
		mcp.WithString("deck_name", mcp.Required(), mcp.Description("Deck to add the note to")),
		mcp.WithString("front", mcp.Required(), mcp.Description("Front side of the note")),
		mcp.WithString("back", mcp.Required(), mcp.Description("Back side of the note")),
		mcp.WithString("note_type", mcp.Description("Note type, defaults to the configured note type")),
		mcp.WithArray("tags", mcp.Description("Tags for the note")),
	), svc.handleAddNote)

	s.AddTool(mcp.NewTool("anki_find_notes",
		mcp.WithDescription("Search notes with Anki search syntax, for example 'deck:Spanish tag:verbs'"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Anki search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes to return (default 20). 0 only counts matches")),
		mcp.WithNumber("offset", mcp.Description("Number of matches to skip (default 0)")),
		mcp.WithBoolean("with_content", mcp.Description("Return note fields rather than ids (default true)")),
	), svc.handleFindNotes)

	s.AddTool(mcp.NewTool("anki_get_note_info",
		mcp.WithDescription("Get the fields of notes by id"),
		noteIDsParam("Note ids"),
	), svc.handleGetNoteInfo)

	s.AddTool(mcp.NewTool("anki_update_note",
		mcp.WithDescription("Update fields of a note and optionally replace its tags"),
		mcp.WithNumber("note_id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithObject("fields", mcp.Required(), mcp.Description("Field names mapped to their new values")),
		mcp.WithArray("tags", mcp.Description("Replacement tag list")),
	), svc.handleUpdateNote)

	s.AddTool(mcp.NewTool("anki_delete_notes",
		mcp.WithDescription("Delete notes and all their cards"),
		noteIDsParam("Ids of the notes to delete"),
	), svc.handleDeleteNotes)

	s.AddTool(mcp.NewTool("anki_move_notes",
		mcp.WithDescription("Move all cards of notes to another deck"),
		noteIDsParam("Ids of the notes to move"),
		mcp.WithString("target_deck", mcp.Required(), mcp.Description("Destination deck, created when missing")),
	), svc.handleMoveNotes)

	s.AddTool(mcp.NewTool("anki_suspend_notes",
		mcp.WithDescription("Suspend or unsuspend all cards of notes"),
		noteIDsParam("Note ids"),
		mcp.WithBoolean("suspend", mcp.Description("true to suspend, false to unsuspend (default true)")),
	), svc.handleSuspendNotes)

	s.AddTool(mcp.NewTool("anki_batch_add_notes",
		mcp.WithDescription("Add many notes of the default note type in one call"),
		mcp.WithArray("notes_data", mcp.Required(),
			mcp.Description("Notes as objects with front, back and optional tags"),
		),
		mcp.WithString("deck_name", mcp.Required(), mcp.Description("Deck to add the notes to")),
	), svc.handleBatchAddNotes)

	s.AddTool(mcp.NewTool("anki_batch_update_tags",
		mcp.WithDescription("Add and remove tags on many notes"),
		noteIDsParam("Note ids"),
		mcp.WithArray("add_tags", mcp.Description("Tags to add")),
		mcp.WithArray("remove_tags", mcp.Description("Tags to remove")),
	), svc.handleBatchUpdateTags)

	s.AddTool(mcp.NewTool("anki_change_note_type",
		mcp.WithDescription("Re-create notes under another note type. The original notes are replaced"),
		noteIDsParam("Ids of the notes to convert"),
		mcp.WithString("target_model", mcp.Required(), mcp.Description("Name of the target note type")),
		mcp.WithObject("field_mapping", mcp.Description("Old field names mapped to new field names. Fields are copied by name when omitted")),
	), svc.handleChangeNoteType)

	s.AddTool(mcp.NewTool("anki_get_note_types",
		mcp.WithDescription("List note types and their fields"),
	), svc.handleGetNoteTypes)

	// Study
	s.AddTool(mcp.NewTool("anki_get_due_cards",
		mcp.WithDescription("Count due cards by queue and show a sample of due notes"),
		optionalDeckParam(),
	), svc.handleGetDueCards)

	s.AddTool(mcp.NewTool("anki_get_study_progress",
		mcp.WithDescription("Summarise new, young and mature cards and recent reviews"),
		optionalDeckParam(),
		mcp.WithNumber("days", mcp.Description("Days of review activity to count (default 7)")),
	), svc.handleGetStudyProgress)

	s.AddTool(mcp.NewTool("anki_get_review_history",
		mcp.WithDescription("Count reviews per answer button and the success rate"),
		optionalDeckParam(),
		mcp.WithNumber("days", mcp.Description("Days of history, 1 to 365 (default 30)")),
	), svc.handleGetReviewHistory)

	// Server
	s.AddTool(mcp.NewTool("anki_sync",
		mcp.WithDescription("Synchronise the collection with AnkiWeb"),
	), svc.handleSync)

	s.AddTool(mcp.NewTool("anki_get_server_info",
		mcp.WithDescription("Show the server configuration and the AnkiConnect connection status"),
	), svc.handleGetServerInfo)
}
