package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gambit-chess/gambit-server/internal/match"
	"github.com/gambit-chess/gambit-server/internal/settle"
	"github.com/gambit-chess/gambit-server/pkg/gambitdto"
)

// PlayerReader reads registered player profiles from the contract. Nil when
// settlement is not configured.
type PlayerReader interface {
	PlayerData(ctx context.Context, hexAddress string) (*settle.PlayerData, error)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListChallenges(coord *match.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := coord.ListChallenges(r.Context())
		if err != nil {
			http.Error(w, "failed to list challenges", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

func GetPlayer(players PlayerReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if players == nil {
			http.Error(w, "player data unavailable: settlement not configured", http.StatusServiceUnavailable)
			return
		}
		addr := chi.URLParam(r, "address")
		if addr == "" {
			http.Error(w, "missing address", http.StatusBadRequest)
			return
		}
		pd, err := players.PlayerData(r.Context(), addr)
		if err != nil {
			http.Error(w, "failed to read player data", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, gambitdto.PlayerProfile{
			Username: pd.Username,
			Address:  pd.Address,
			Rating:   pd.Rating,
			Tier:     string(match.TierForRating(pd.Rating)),
			MatchIDs: pd.MatchIDs,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
