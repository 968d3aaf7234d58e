package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gambit-chess/gambit-server/internal/match"
	"github.com/gambit-chess/gambit-server/internal/ws"
)

// SetupRoutes builds the HTTP surface: websocket upgrade plus a small REST
// mirror of the discovery/profile queries.
func SetupRoutes(hub *ws.Hub, coord *match.Coordinator, players PlayerReader) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(hub, coord))
	r.Get("/api/challenges", ListChallenges(coord))
	r.Get("/api/player/{address}", GetPlayer(players))
	return r
}
