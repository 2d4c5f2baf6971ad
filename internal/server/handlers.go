package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/franckalain/pockettrainer/internal/database"
	"github.com/franckalain/pockettrainer/internal/models"
	"github.com/franckalain/pockettrainer/internal/session"
)

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	data, contentType, err := s.db.Load(r.Context(), key)
	if errors.Is(err, database.ErrBlobNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Error loading blob")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, dateKey := vars["user"], vars["date"]
	if dateKey == "today" {
		sc, err := session.NewContext(userID, r.URL.Query().Get("tz"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dateKey = sc.Today(s.now(), s.settings.Location)
	}

	rec, found, err := s.db.Get(r.Context(), userID, dateKey)
	if errors.Is(err, database.ErrInvalidKey) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("path", database.RecordPath(userID, dateKey)).Msg("Error retrieving progress")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no record for "+dateKey, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"path":   database.RecordPath(userID, dateKey),
		"date":   dateKey,
		"record": rec.Fields(),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	profile, found, err := s.db.GetProfile(r.Context(), userID)
	if errors.Is(err, database.ErrInvalidKey) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("path", database.ProfilePath(userID)).Msg("Error retrieving profile")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "no profile for "+userID, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"path":    database.ProfilePath(userID),
		"profile": profile,
	})
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	for _, bound := range []string{from, to} {
		if bound == "" {
			continue
		}
		if err := models.ValidateDateKey(bound); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	dates, err := s.db.ListDates(r.Context(), userID, from, to)
	if err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("Error listing progress")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, map[string]any{"user": userID, "dates": dates})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
