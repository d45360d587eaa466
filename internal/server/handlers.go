package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"searchd/internal/registry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports whether an index is open. The meta-name is
// always "open" and reports the list of open indices instead.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if name == registry.MetaName {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":    name,
			"indices": s.reg.Names(),
		})
		return
	}

	info, err := s.reg.Info(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if name == registry.MetaName {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	location := r.URL.Query().Get("path")
	if location == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	err := s.reg.Create(name, location)
	// A storage failure leaves the index created, so the gauge tracks
	// the registry, not the request outcome.
	s.metrics.IndicesOpen.Set(float64(s.reg.Len()))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"name": name,
		"path": location,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.reg.Remove(name)
	s.metrics.IndicesOpen.Set(float64(s.reg.Len()))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

// handleQuery serves both single-index and meta-scope queries. The
// limit parameter is mandatory and checked before index existence.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	params := r.URL.Query()

	limitStr := params.Get("limit")
	if limitStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	expr := params.Get("q")
	collapse := params.Get("collapse")

	var results []registry.Result
	if name == registry.MetaName {
		results, err = s.reg.QueryAll(r.Context(), expr, collapse, limit)
	} else {
		results, err = s.reg.Query(r.Context(), name, expr, collapse, limit)
	}

	if err != nil {
		s.metrics.QueryErrors.WithLabelValues(name).Inc()
		s.writeError(w, err)
		return
	}
	s.metrics.QueriesTotal.WithLabelValues(name).Inc()

	if results == nil {
		results = []registry.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}
