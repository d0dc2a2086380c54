package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chatduel/internal/hub"
	"github.com/DoyleJ11/chatduel/internal/lobby"
	"github.com/DoyleJ11/chatduel/internal/store"
	"github.com/DoyleJ11/chatduel/internal/ws"
)

type Deps struct {
	Hub       *hub.Hub
	Games     *lobby.Coordinator
	History   store.Store
	Logger    *zap.Logger

	// Chat serves WebSocket clients; nil leaves /ws unrouted.
	Chat ws.ConnServer
	// WSOrigins are the cross-origin host patterns accepted on /ws.
	WSOrigins []string
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/users", ListUsers(d.Hub))
	r.Get("/match", CurrentMatch(d.Games))
	r.Get("/matches", RecentMatches(d.History, d.Logger))
	if d.Chat != nil {
		r.Get("/ws", ws.Handler(d.Chat, d.WSOrigins, d.Logger))
	}
	return r
}
