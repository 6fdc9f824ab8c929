package ankitest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
)

// Version is what the fake reports for the version action.
const Version = 6

// Fault is an injected transport failure.
type Fault int

const (
	// FaultStatus answers with HTTP 500.
	FaultStatus Fault = iota + 1
	// FaultMalformed answers with a body that is not JSON.
	FaultMalformed
	// FaultDrop closes the connection without answering.
	FaultDrop
)

// Request is one envelope received by the server.
type Request struct {
	Action  string                     `json:"action"`
	Version int                        `json:"version"`
	Params  map[string]json.RawMessage `json:"params"`
}

// Server is a fake AnkiConnect endpoint.
type Server struct {
	*httptest.Server
	Collection *Collection

	mu       sync.Mutex
	faults   []Fault
	requests []Request
	errors   map[string]string
}

// NewServer starts a fake AnkiConnect. Close it when done.
func NewServer() *Server {
	s := &Server{Collection: NewCollection(), errors: map[string]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// InjectFaults makes the next len(faults) requests fail in order.
func (s *Server) InjectFaults(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// FailAction makes every call of action return msg as a logical error.
func (s *Server) FailAction(action, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[action] = msg
}

// Requests returns every envelope decoded so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls counts decoded requests for action.
func (s *Server) Calls(action string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Action == action {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var fault Fault
	if len(s.faults) > 0 {
		fault = s.faults[0]
		s.faults = s.faults[1:]
	}
	s.mu.Unlock()

	switch fault {
	case FaultStatus:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	case FaultMalformed:
		w.Write([]byte("<html>not json"))
		return
	case FaultDrop:
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		http.Error(w, "drop unsupported", http.StatusInternalServerError)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reply(w, nil, "failed to decode request")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	forced, failing := s.errors[req.Action]
	s.mu.Unlock()

	if failing {
		reply(w, nil, forced)
		return
	}

	result, err := s.dispatch(req)
	if err != nil {
		reply(w, nil, err.Error())
		return
	}
	reply(w, result, "")
}

func reply(w http.ResponseWriter, result any, errMsg string) {
	body := map[string]any{"result": result, "error": nil}
	if errMsg != "" {
		body["error"] = errMsg
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

type noteParam struct {
	ID        int64             `json:"id"`
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags"`
}

func param[T any](req Request, name string) (T, error) {
	var v T
	raw, ok := req.Params[name]
	if !ok {
		return v, fmt.Errorf("missing parameter %q", name)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("invalid parameter %q: %w", name, err)
	}
	return v, nil
}

// tagsParam accepts both a list and a space separated string.
func tagsParam(req Request, name string) ([]string, error) {
	if list, err := param[[]string](req, name); err == nil {
		return list, nil
	}
	str, err := param[string](req, name)
	if err != nil {
		return nil, err
	}
	return strings.Fields(str), nil
}

func (s *Server) dispatch(req Request) (any, error) {
	c := s.Collection
	switch req.Action {
	case "version":
		return Version, nil
	case "sync":
		return nil, nil
	case "deckNames":
		return c.DeckNames(), nil
	case "createDeck":
		deck, err := param[string](req, "deck")
		if err != nil {
			return nil, err
		}
		return c.CreateDeck(deck), nil
	case "modelNames":
		return c.ModelNames(), nil
	case "modelFieldNames":
		model, err := param[string](req, "modelName")
		if err != nil {
			return nil, err
		}
		return c.ModelFieldNames(model)
	case "addNote":
		note, err := param[noteParam](req, "note")
		if err != nil {
			return nil, err
		}
		return c.AddNote(note.DeckName, note.ModelName, note.Fields, note.Tags)
	case "addNotes":
		notes, err := param[[]noteParam](req, "notes")
		if err != nil {
			return nil, err
		}
		ids := make([]*int64, len(notes))
		for i, n := range notes {
			if id, err := c.AddNote(n.DeckName, n.ModelName, n.Fields, n.Tags); err == nil {
				ids[i] = &id
			}
		}
		return ids, nil
	case "findNotes":
		query, err := param[string](req, "query")
		if err != nil {
			return nil, err
		}
		return nonNil(c.FindNotes(query)), nil
	case "findCards":
		query, err := param[string](req, "query")
		if err != nil {
			return nil, err
		}
		return nonNil(c.FindCards(query)), nil
	case "notesInfo":
		ids, err := param[[]int64](req, "notes")
		if err != nil {
			return nil, err
		}
		return s.notesInfo(ids), nil
	case "cardsInfo":
		ids, err := param[[]int64](req, "cards")
		if err != nil {
			return nil, err
		}
		return s.cardsInfo(ids), nil
	case "getDeckStats":
		decks, err := param[[]string](req, "decks")
		if err != nil {
			return nil, err
		}
		return s.deckStats(decks), nil
	case "updateNoteFields":
		note, err := param[noteParam](req, "note")
		if err != nil {
			return nil, err
		}
		return nil, c.UpdateFields(note.ID, note.Fields)
	case "updateNoteTags":
		id, err := param[int64](req, "note")
		if err != nil {
			return nil, err
		}
		tags, err := tagsParam(req, "tags")
		if err != nil {
			return nil, err
		}
		return nil, c.SetTags(id, tags)
	case "addTags", "removeTags":
		ids, err := param[[]int64](req, "notes")
		if err != nil {
			return nil, err
		}
		tags, err := tagsParam(req, "tags")
		if err != nil {
			return nil, err
		}
		if req.Action == "addTags" {
			c.AddTags(ids, tags)
		} else {
			c.RemoveTags(ids, tags)
		}
		return nil, nil
	case "deleteNotes":
		ids, err := param[[]int64](req, "notes")
		if err != nil {
			return nil, err
		}
		c.DeleteNotes(ids)
		return nil, nil
	case "changeDeck":
		cards, err := param[[]int64](req, "cards")
		if err != nil {
			return nil, err
		}
		deck, err := param[string](req, "deck")
		if err != nil {
			return nil, err
		}
		c.ChangeDeck(cards, deck)
		return nil, nil
	case "suspend", "unsuspend":
		cards, err := param[[]int64](req, "cards")
		if err != nil {
			return nil, err
		}
		return c.SetSuspended(cards, req.Action == "suspend"), nil
	case "exportPackage":
		deck, err := param[string](req, "deck")
		if err != nil {
			return nil, err
		}
		if _, ok := c.DeckID(deck); !ok {
			return false, nil
		}
		return true, nil
	}
	return nil, errors.New("unsupported action")
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func (s *Server) notesInfo(ids []int64) []map[string]any {
	out := []map[string]any{}
	for _, id := range ids {
		n, err := s.Collection.Note(id)
		if err != nil {
			out = append(out, map[string]any{})
			continue
		}
		order, _ := s.Collection.ModelFieldNames(n.Model)
		fields := map[string]any{}
		for i, name := range order {
			fields[name] = map[string]any{"value": n.Fields[name], "order": i}
		}
		out = append(out, map[string]any{
			"noteId":    n.ID,
			"modelName": n.Model,
			"tags":      n.Tags,
			"fields":    fields,
			"cards":     n.Cards,
		})
	}
	return out
}

func (s *Server) cardsInfo(ids []int64) []map[string]any {
	out := []map[string]any{}
	for _, id := range ids {
		card, ok := s.Collection.Card(id)
		if !ok {
			out = append(out, map[string]any{})
			continue
		}
		n, _ := s.Collection.Note(card.NoteID)
		queue := int(card.Queue)
		if card.Suspended {
			queue = -1
		}
		out = append(out, map[string]any{
			"cardId":    card.ID,
			"note":      card.NoteID,
			"deckName":  card.Deck,
			"modelName": n.Model,
			"queue":     queue,
			"type":      int(card.Queue),
			"interval":  card.Interval,
		})
	}
	return out
}

// deckStats is keyed by deck id, like the real add-on.
func (s *Server) deckStats(decks []string) map[string]any {
	out := map[string]any{}
	sort.Strings(decks)
	for _, name := range decks {
		id, ok := s.Collection.DeckID(name)
		if !ok {
			continue
		}
		deckQuery := fmt.Sprintf("deck:%q", name)
		out[fmt.Sprint(id)] = map[string]any{
			"deck_id":       id,
			"name":          name,
			"new_count":     len(s.Collection.FindCards(deckQuery + " is:new")),
			"learn_count":   len(s.Collection.FindCards(deckQuery + " is:learn")),
			"review_count":  len(s.Collection.FindCards(deckQuery + " is:review is:due")),
			"total_in_deck": len(s.Collection.FindCards(deckQuery)),
		}
	}
	return out
}
