package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/ledger"
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/target"
)

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", errBadRequest, name)
	}
	return &v, nil
}

func requireSceneID(r *http.Request) (int, error) {
	id, err := queryInt(r, "sceneId")
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, fmt.Errorf("%w: no sceneId provided", errBadRequest)
	}
	return *id, nil
}

func nonNegative(name string, v *int) error {
	if v != nil && *v < 0 {
		return fmt.Errorf("%w: %s must not be negative", errBadRequest, name)
	}
	return nil
}

func percent(name string, v *int) error {
	if v != nil && (*v < 0 || *v > 100) {
		return fmt.Errorf("%w: %s must be between 0 and 100", errBadRequest, name)
	}
	return nil
}

func stageOptions(r *http.Request) (scene.StageOptions, error) {
	var opts scene.StageOptions
	var err error
	if opts.Priority, err = queryInt(r, "priority"); err != nil {
		return opts, err
	}
	if opts.TransitionMs, err = queryInt(r, "transitionMs"); err != nil {
		return opts, err
	}
	if opts.BrightnessPercent, err = queryInt(r, "brightnessPercent"); err != nil {
		return opts, err
	}
	return opts, errors.Join(
		nonNegative("transitionMs", opts.TransitionMs),
		percent("brightnessPercent", opts.BrightnessPercent),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, "healthy")
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.deps.Engine.Done():
		writeJSON(w, http.StatusServiceUnavailable, Response{Status: statusError, Message: "engine stopped"})
	default:
		writeSuccess(w, "ready")
	}
}

// handleGetScene returns one scene by sceneId or sceneName, or every scene
// when neither is given.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id, err := queryInt(r, "sceneId")
	if err != nil {
		writeError(w, err)
		return
	}
	name := r.URL.Query().Get("sceneName")

	switch {
	case id != nil:
		sc, ok := s.deps.Scenes.Scene(*id)
		if !ok {
			writeError(w, fmt.Errorf("%w: %d", scene.ErrSceneNotFound, *id))
			return
		}
		writeSuccess(w, sc)
	case name != "":
		sc, ok := s.deps.Scenes.FindByName(name)
		if !ok {
			writeError(w, fmt.Errorf("%w: %q", scene.ErrSceneNotFound, name))
			return
		}
		writeSuccess(w, sc)
	default:
		s.handleListScenes(w, r)
	}
}

func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, s.deps.Scenes.Scenes())
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, s.deps.Groups.Groups())
}

func (s *Server) handleListEffects(w http.ResponseWriter, r *http.Request) {
	running, err := s.deps.Engine.Effects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"available": s.deps.EffectNames(),
		"running":   running,
	})
}

func (s *Server) handleListStaged(w http.ResponseWriter, r *http.Request) {
	staged, err := s.deps.Engine.StagedScenes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, staged)
}

func (s *Server) handleListUnstaging(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Engine.UnstagingScenes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, ids)
}

func (s *Server) handleSceneStatus(w http.ResponseWriter, r *http.Request) {
	id, err := requireSceneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.deps.Scenes.Scene(id); !ok {
		writeError(w, fmt.Errorf("%w: %d", scene.ErrSceneNotFound, id))
		return
	}
	status, err := s.deps.Engine.SceneStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"sceneId": id, "status": status})
}

const defaultLedgerLimit = 100

// handleLedger lists audit entries, filtered by batch or type when given.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSON(w, http.StatusNotFound, Response{Status: statusError, Message: "ledger disabled"})
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	n := defaultLedgerLimit
	if limit != nil && *limit > 0 {
		n = *limit
	}

	var entries []*ledger.Entry
	switch q := r.URL.Query(); {
	case q.Get("batch") != "":
		entries, err = s.deps.Ledger.GetByBatch(q.Get("batch"))
	case q.Get("type") != "":
		entries, err = s.deps.Ledger.GetByType(ledger.EventType(q.Get("type")), n)
	default:
		entries, err = s.deps.Ledger.GetRecent(n)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, entries)
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	id, err := requireSceneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := stageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	staged, err := s.deps.Engine.StageScene(r.Context(), id, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, staged)
}

func (s *Server) handleUnstage(w http.ResponseWriter, r *http.Request) {
	id, err := requireSceneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	transitionMs, err := queryInt(r, "transitionMs")
	if err == nil {
		err = nonNegative("transitionMs", transitionMs)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	removed, err := s.deps.Engine.UnstageScene(r.Context(), id, transitionMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"sceneId": id, "unstaged": removed})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, err := requireSceneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := stageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}

	status, err := s.deps.Engine.ToggleScene(r.Context(), id, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"sceneId": id, "status": status})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var opts scene.ApplyOptions
	var err error
	if opts.TransitionMs, err = queryInt(r, "transitionMs"); err != nil {
		writeError(w, err)
		return
	}
	if opts.BrightnessPercent, err = queryInt(r, "brightnessPercent"); err != nil {
		writeError(w, err)
		return
	}
	if err := errors.Join(
		nonNegative("transitionMs", opts.TransitionMs),
		percent("brightnessPercent", opts.BrightnessPercent),
	); err != nil {
		writeError(w, err)
		return
	}

	plan, err := s.deps.Engine.ApplyAll(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	targets := make(map[string]int)
	for kind, assignments := range plan.ByKind() {
		targets[string(kind)] = len(assignments)
	}
	writeSuccess(w, map[string]any{
		"scenes":  plan.Scenes,
		"fades":   plan.Fades,
		"targets": targets,
		"effects": len(plan.Effects),
	})
}

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", errBadRequest, err)
	}
	return nil
}

// handleAddScene stores the scene in the body under the lowest free id.
// Any id in the body is ignored.
func (s *Server) handleAddScene(w http.ResponseWriter, r *http.Request) {
	var sc scene.Scene
	if err := decodeBody(w, r, &sc); err != nil {
		writeError(w, err)
		return
	}
	if sc.Name == "" {
		writeError(w, fmt.Errorf("%w: scene name is required", errBadRequest))
		return
	}
	id := s.deps.Scenes.Add(sc)
	log.Info().Int("scene_id", id).Str("scene", sc.Name).Msg("Scene added")
	writeSuccess(w, map[string]any{"sceneId": id})
}

func (s *Server) handleRemoveScene(w http.ResponseWriter, r *http.Request) {
	id, err := requireSceneID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.deps.Scenes.Remove(id) {
		writeError(w, fmt.Errorf("%w: %d", scene.ErrSceneNotFound, id))
		return
	}
	log.Info().Int("scene_id", id).Msg("Scene removed")
	writeSuccess(w, map[string]any{"sceneId": id})
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	var g target.Group
	if err := decodeBody(w, r, &g); err != nil {
		writeError(w, err)
		return
	}
	id := s.deps.Groups.Add(g)
	log.Info().Int("group_id", id).Str("group", g.Name).Msg("Group added")
	writeSuccess(w, map[string]any{"groupId": id})
}

func (s *Server) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	id, err := queryInt(r, "groupId")
	if err == nil && id == nil {
		err = fmt.Errorf("%w: no groupId provided", errBadRequest)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.deps.Groups.Remove(*id) {
		writeError(w, fmt.Errorf("%w: %d", target.ErrGroupNotFound, *id))
		return
	}
	log.Info().Int("group_id", *id).Msg("Group removed")
	writeSuccess(w, map[string]any{"groupId": *id})
}

func (s *Server) handleSave(w http.ResponseWriter, _ *http.Request) {
	if err := errors.Join(s.deps.Scenes.Save(), s.deps.Groups.Save()); err != nil {
		log.Error().Err(err).Msg("Failed to save registries")
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"scenes": s.deps.Scenes.Len(), "groups": s.deps.Groups.Len()})
}
