package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/coop-session-server/internal/hub"
	"github.com/DoyleJ11/coop-session-server/internal/lobby"
	"github.com/DoyleJ11/coop-session-server/internal/roster"
	"github.com/DoyleJ11/coop-session-server/internal/types"
)

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			reply := make(chan *lobby.Lobby, 1)
			lb, ok := hub.Ask(h, hub.GetSession{Code: c, Reply: reply}, reply)
			if !ok {
				http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
				return
			}
			if lb == nil {
				code = c
				break
			}
			log.Debug("collision on code, regenerating", zap.String("code", c))
		}

		reply := make(chan *lobby.Lobby, 1)
		if lb, _ := hub.Ask(h, hub.EnsureSession{Code: code, Reply: reply}, reply); lb == nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: code})
	}
}

type sessionView struct {
	Code     string            `json:"code"`
	Phase    string            `json:"phase"`
	Host     types.ClientID    `json:"host"`
	Clients  int               `json:"clients"`
	Version  int               `json:"roster_version"`
	Roster   []roster.Entry    `json:"roster"`
	Entities []types.NetworkID `json:"entities"`
}

func GetSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		reply := make(chan *lobby.Lobby, 1)
		lb, _ := hub.Ask(h, hub.GetSession{Code: code, Reply: reply}, reply)
		if lb == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		views := make(chan lobby.View, 1)
		select {
		case lb.Inbox() <- lobby.GetState{Reply: views}:
		case <-lb.Done():
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		select {
		case v := <-views:
			writeJSON(w, http.StatusOK, sessionView{
				Code:     v.Code,
				Phase:    v.Phase.String(),
				Host:     v.Host,
				Clients:  v.NumClients,
				Version:  v.RosterVersion,
				Roster:   v.Roster,
				Entities: v.Entities,
			})
		case <-lb.Done():
			http.Error(w, "session not found", http.StatusNotFound)
		case <-time.After(2 * time.Second):
			http.Error(w, "session busy", http.StatusServiceUnavailable)
		}
	}
}

func ListSessions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		codes, ok := hub.Ask(h, hub.ListSessions{Reply: reply}, reply)
		if !ok {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Sessions []string `json:"sessions"`
		}{Sessions: codes})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
