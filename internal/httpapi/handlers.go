package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/hub"
	"github.com/DoyleJ11/chatduel/internal/lobby"
	"github.com/DoyleJ11/chatduel/internal/store"
	ptypes "github.com/DoyleJ11/chatduel/pkg/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListUsers(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users := h.Usernames("")
		writeJSON(w, http.StatusOK, ptypes.UsersView{Count: len(users), Users: users})
	}
}

func CurrentMatch(games *lobby.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := games.State(r.Context())
		if err != nil {
			http.Error(w, "game coordinator unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, v.MatchView())
	}
}

func RecentMatches(history store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		recs, err := history.RecentMatches(r.Context(), limit)
		if err != nil {
			log.Error("loading match history", zap.Error(err))
			http.Error(w, "failed to load match history", http.StatusInternalServerError)
			return
		}
		out := make([]ptypes.MatchRecordView, len(recs))
		for i, rec := range recs {
			out[i] = rec.View()
		}
		writeJSON(w, http.StatusOK, out)
	}
}
