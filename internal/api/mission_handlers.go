package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/fleetops/missionctl/internal/mission"
	"github.com/fleetops/missionctl/internal/schema"
)

func decodeYAML(body []byte, out any) error {
	return yaml.Unmarshal(body, out)
}

// registerRoutes wires every control-plane operation onto mux. ServeMux
// prefers the most specific pattern whatever the registration order, so
// GET /missions/schema is never taken for GET /missions/{id}.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /missions", s.listMissions)
	mux.HandleFunc("POST /missions", s.createMission)
	mux.HandleFunc("GET /missions/schema", s.getSchema)
	mux.HandleFunc("POST /missions/validate", s.validateMission)

	mux.HandleFunc("GET /missions/{id}", s.getMission)
	mux.HandleFunc("DELETE /missions/{id}", s.deleteMission)
	mux.HandleFunc("GET /missions/{id}/activate", s.activateMission)
	mux.HandleFunc("GET /missions/{id}/deactivate", s.deactivateMission)
	mux.HandleFunc("GET /missions/{id}/versions", s.listVersions)
	mux.HandleFunc("GET /missions/{id}/versions/{v}", s.getVersion)
	mux.HandleFunc("PUT /missions/{id}/versions/{v}", s.setVersion)
	mux.HandleFunc("GET /missions/{id}/runs", s.listRuns)
	mux.HandleFunc("GET /missions/{id}/runs/{r}", s.getRun)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// badRequest reports a client error as a bare 400. Validation failures and
// unknown-id lookups get the same status; callers distinguish them by the
// message.
func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	summaries, err := s.Missions.List(r.Context(), state)
	if err != nil {
		badRequest(w, err)
		return
	}

	out := make(map[string]*mission.Summary, len(summaries))
	for _, sum := range summaries {
		out[sum.ID] = sum
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createMission(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		badRequest(w, errors.New("request body is required"))
		return
	}

	detail, err := s.Missions.Create(r.Context(), string(body))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Missions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deleteMission(w http.ResponseWriter, r *http.Request) {
	if err := s.Missions.Delete(r.Context(), r.PathValue("id")); err != nil {
		badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) activateMission(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Missions.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) deactivateMission(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Missions.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.Missions.Versions(r.Context(), r.PathValue("id"))
	if err != nil {
		badRequest(w, err)
		return
	}
	ids := make([]string, 0, len(scripts))
	for _, sc := range scripts {
		ids = append(ids, sc.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": ids})
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	sc, err := s.Missions.GetVersion(r.Context(), r.PathValue("id"), r.PathValue("v"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": sc.Body})
}

func (s *Server) setVersion(w http.ResponseWriter, r *http.Request) {
	detail, err := s.Missions.SetVersion(r.Context(), r.PathValue("id"), r.PathValue("v"))
	if err != nil {
		badRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Missions.Runs(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		badRequest(w, err)
		return
	}
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": ids})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	_, events, err := s.Missions.GetRun(r.Context(), r.PathValue("id"), r.PathValue("r"))
	if err != nil {
		badRequest(w, err)
		return
	}

	out := make([][3]any, 0, len(events))
	for _, ev := range events {
		out = append(out, [3]any{ev.Timestamp, ev.Type, ev.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": out})
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schema.Document)
}

func (s *Server) validateMission(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		badRequest(w, errors.New("request body is required"))
		return
	}

	var doc map[string]any
	if err := decodeYAML(body, &doc); err != nil {
		badRequest(w, err)
		return
	}
	if err := schema.Validate(doc); err != nil {
		badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
