package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"replay-engine/internal/entity"
	"replay-engine/internal/scrubber"
	"replay-engine/internal/session"
	"replay-engine/internal/wire"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers

func (h *routerHandlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.sessions.List())
}

func (h *routerHandlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var opts session.CreateOptions
	if err := decodeOptional(r.Body, &opts); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if opts.StartTurn < 0 {
		writeError(w, "startTurn must not be negative", http.StatusBadRequest)
		return
	}

	s, err := h.sessions.Create(opts)
	switch {
	case errors.Is(err, session.ErrLimitReached):
		writeError(w, "Session limit reached", http.StatusServiceUnavailable)
		return
	case errors.Is(err, scrubber.ErrInvalidSpeed):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("🎬 Session %s created", s.ID())
	writeJSONStatus(w, http.StatusCreated, s.Info())
}

func (h *routerHandlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, sessionFrom(r).Info())
}

func (h *routerHandlers) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(id); err != nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	h.intake.Forget(id)
	if h.hub != nil {
		h.hub.Disconnect(id)
	}
	log.Printf("🗑️ Session %s deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) handleMutations(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)

	body := http.MaxBytesReader(w, r.Body, h.limits.MaxBodyBytes)
	ms, err := wire.DecodeStream(body, h.limits.MaxMutationsPerRequest)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, wire.ErrTooManyMutations):
			RecordMutationRejected("too_large")
			writeError(w, fmt.Sprintf("At most %d mutations per request", h.limits.MaxMutationsPerRequest), http.StatusRequestEntityTooLarge)
		case errors.As(err, &tooLarge):
			RecordMutationRejected("too_large")
			writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
		default:
			RecordMutationRejected("decode")
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	if ok, wait := h.intake.Reserve(s.ID(), len(ms)); !ok {
		RecordMutationRejected("rate_limit")
		w.Header().Set("Retry-After", retryAfter(wait))
		writeError(w, "Intake budget exhausted for this session", http.StatusTooManyRequests)
		return
	}

	start := time.Now()
	applied, err := s.Apply(ms)
	RecordMutationBatch(applied, time.Since(start))
	if err != nil {
		writeSessionError(w, err)
		return
	}

	info := s.Info()
	writeJSON(w, map[string]interface{}{
		"applied":   applied,
		"total":     info.Applied,
		"snapshots": info.Playback.Snapshots,
		"ready":     info.Playback.Ready,
	})
}

func (h *routerHandlers) handleEnd(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := s.End(); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, s.Info())
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	s.Touch()
	writeJSON(w, wire.NewSnapshot(s.Scrubber().State()))
}

func (h *routerHandlers) handleGetTurns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, sessionFrom(r).Scrubber().TurnStarts())
}

// Side channel

func (h *routerHandlers) handleGetOracle(w http.ResponseWriter, r *http.Request) {
	o := sessionFrom(r).Oracle()
	build, hasBuild := o.Build()
	resp := map[string]interface{}{
		"cards":     o.Cards(),
		"mulligans": o.Mulligans(),
	}
	if hasBuild {
		resp["build"] = build
	}
	writeJSON(w, resp)
}

func (h *routerHandlers) handleOracleBuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Build int `json:"build"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Build < 0 {
		writeError(w, "build must not be negative", http.StatusBadRequest)
		return
	}
	sessionFrom(r).Oracle().SetBuild(req.Build)
	writeJSON(w, map[string]bool{"success": true})
}

type revealRequest struct {
	Entity int         `json:"entity"`
	CardID string      `json:"cardId"`
	Tags   map[int]int `json:"tags,omitempty"`
}

func (h *routerHandlers) handleOracleCards(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cards []revealRequest `json:"cards"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	o := sessionFrom(r).Oracle()
	revealed := 0
	for _, c := range req.Cards {
		if o.Reveal(c.Entity, c.CardID, entity.NewTagMap(c.Tags)) {
			revealed++
		}
	}
	writeJSON(w, map[string]int{"revealed": revealed})
}

func (h *routerHandlers) handleOracleMulligans(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offered []int `json:"offered"`
		Chosen  []int `json:"chosen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	o := sessionFrom(r).Oracle()
	if len(req.Offered) > 0 {
		o.OfferMulligan(req.Offered)
	}
	if len(req.Chosen) > 0 {
		o.ResolveMulligan(req.Chosen)
	}
	writeJSON(w, o.Mulligans())
}

// Playback

// playbackActions are the argument-free controls, shared with WebSocket commands.
var playbackActions = map[string]func(*scrubber.Scrubber){
	"play":            (*scrubber.Scrubber).Play,
	"pause":           (*scrubber.Scrubber).Pause,
	"toggle":          (*scrubber.Scrubber).Toggle,
	"rewind":          (*scrubber.Scrubber).Rewind,
	"fast-forward":    (*scrubber.Scrubber).FastForward,
	"next-turn":       (*scrubber.Scrubber).NextTurn,
	"previous-turn":   (*scrubber.Scrubber).PreviousTurn,
	"next-action":     (*scrubber.Scrubber).NextAction,
	"previous-action": (*scrubber.Scrubber).PreviousAction,
	"skip-back":       (*scrubber.Scrubber).SkipBack,
}

// playbackCommand is a control sent by a viewer. Speed and Time are only
// read by the "speed" and "seek" actions.
type playbackCommand struct {
	Action string  `json:"action"`
	Speed  float64 `json:"speed,omitempty"`
	Time   float64 `json:"time,omitempty"`
}

var errUnknownAction = errors.New("unknown playback action")

func runPlaybackCommand(s *session.Session, cmd playbackCommand) error {
	s.Touch()
	scr := s.Scrubber()
	switch cmd.Action {
	case "speed":
		return scr.SetSpeed(cmd.Speed)
	case "seek":
		return scr.Seek(cmd.Time)
	}
	action, ok := playbackActions[cmd.Action]
	if !ok {
		return fmt.Errorf("%q: %w", cmd.Action, errUnknownAction)
	}
	action(scr)
	return nil
}

func (h *routerHandlers) handlePlaybackStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, sessionFrom(r).Scrubber().Status())
}

func (h *routerHandlers) handlePlaybackAction(w http.ResponseWriter, r *http.Request) {
	h.playback(w, r, playbackCommand{Action: chi.URLParam(r, "action")})
}

func (h *routerHandlers) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.playback(w, r, playbackCommand{Action: "speed", Speed: *req.Speed})
}

func (h *routerHandlers) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time *float64 `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Time == nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	h.playback(w, r, playbackCommand{Action: "seek", Time: *req.Time})
}

func (h *routerHandlers) playback(w http.ResponseWriter, r *http.Request, cmd playbackCommand) {
	s := sessionFrom(r)
	if err := runPlaybackCommand(s, cmd); err != nil {
		switch {
		case errors.Is(err, errUnknownAction):
			writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, scrubber.ErrInvalidSpeed):
			writeJSONStatus(w, http.StatusBadRequest, map[string]interface{}{
				"error":  err.Error(),
				"speeds": s.Scrubber().Speeds(),
			})
		default:
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	writeJSON(w, s.Scrubber().Status())
}

func (h *routerHandlers) handleWS(w http.ResponseWriter, r *http.Request) {
	h.hub.HandleWebSocket(w, r, sessionFrom(r))
}

// Helper functions (package-level for reuse)

// decodeOptional decodes a JSON body, treating an empty body as no input.
func decodeOptional(body io.Reader, v interface{}) error {
	err := json.NewDecoder(body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEnded):
		RecordMutationRejected("ended")
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrClosed):
		RecordMutationRejected("closed")
		writeError(w, err.Error(), http.StatusGone)
	default:
		RecordMutationRejected("invalid")
		writeError(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
