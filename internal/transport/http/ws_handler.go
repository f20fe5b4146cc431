package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"quizmaster/internal/app"
	"quizmaster/internal/domain"
	"quizmaster/internal/rounds"
	"quizmaster/internal/standings"
)

// Engine is the part of app.Engine the push channel drives.
type Engine interface {
	Game(ctx context.Context, gameID string) (domain.Game, error)
	Authenticate(ctx context.Context, teamID, password string) (domain.Team, error)
	Submit(ctx context.Context, teamID, roundID string, sub domain.Submission) (app.SubmitResult, error)
	TickAwayTime(ctx context.Context, teamID string) (app.AwayStatus, error)
	ReportTabSwitch(ctx context.Context, teamID string) (app.AwayStatus, error)
	ReportAwayTime(ctx context.Context, teamID string, seconds int) (app.AwayStatus, error)
	NextRound(ctx context.Context, teamID string) (rounds.Step, error)
	Progress(ctx context.Context, teamID string) (rounds.Progress, error)
	Leaderboard(ctx context.Context, gameID string, viewer domain.Principal) (standings.Board, error)
	Scoresheet(ctx context.Context, gameID string) (standings.Scoresheet, error)
}

// Subscriber hands out per-game event streams.
type Subscriber interface {
	Subscribe(gameID string) (<-chan domain.Event, func())
}

type WSHandler struct {
	engine     Engine
	events     Subscriber
	adminToken string
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler wires the push channel. Admin connections must present
// adminToken; an empty token leaves admin access open, which is only meant
// for local runs.
func NewWSHandler(engine Engine, events Subscriber, adminToken string, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		engine:     engine,
		events:     events,
		adminToken: adminToken,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	RoundID string            `json:"roundId"`
	Answers map[string]string `json:"answers"`
}

type awayPayload struct {
	Seconds int `json:"seconds"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	GameID string       `json:"gameId"`
	TeamID string       `json:"teamId,omitempty"`
	Role   string       `json:"role"`
	Next   *rounds.Step `json:"next,omitempty"`
}

var errUnauthorized = errors.New("unauthorized")

// resolve identifies the caller. Teams present their id with the team
// password in the X-Team-Password header or the password query parameter.
func (h *WSHandler) resolve(r *http.Request) (string, domain.Principal, error) {
	q := r.URL.Query()
	gameID := q.Get("gameId")
	if gameID == "" {
		return "", nil, errors.New("missing gameId")
	}
	if _, err := h.engine.Game(r.Context(), gameID); err != nil {
		return "", nil, err
	}

	if q.Get("role") == "admin" {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = q.Get("token")
		}
		if h.adminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			return "", nil, errUnauthorized
		}
		return gameID, domain.AdminPrincipal{AdminID: "admin"}, nil
	}

	teamID := q.Get("teamId")
	if teamID == "" {
		return "", nil, errors.New("missing teamId or role")
	}
	password := r.Header.Get("X-Team-Password")
	if password == "" {
		password = q.Get("password")
	}
	team, err := h.engine.Authenticate(r.Context(), teamID, password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return "", nil, errUnauthorized
	}
	if err != nil {
		return "", nil, err
	}
	if team.GameID != gameID {
		return "", nil, domain.ErrTeamNotInGame
	}
	return gameID, domain.TeamPrincipal{TeamID: team.ID, GameID: gameID}, nil
}

// ServeWS upgrades HTTP requests to websockets and wires them into the quiz use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID, principal, err := h.resolve(r)
	switch {
	case errors.Is(err, errUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case errors.Is(err, domain.ErrGameNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	_, isAdmin := principal.(domain.AdminPrincipal)
	teamID := domain.ViewerTeamID(principal)

	updates, cancel := h.events.Subscribe(gameID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", "game_id", gameID, "error", err)
				// unblocks the read loop
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				if ev.Audience == domain.AudienceAdmin && !isAdmin {
					continue
				}
				out := []outboundMessage[any]{{Type: string(ev.Type), Payload: ev}}
				if ev.Type == domain.EventScoreUpdated {
					if lb, err := h.engine.Leaderboard(ctx, gameID, principal); err == nil {
						out = append(out, outboundMessage[any]{Type: "leaderboard", Payload: lb})
					}
				}
				for _, msg := range out {
					select {
					case send <- msg:
					case <-closeSignals:
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	joined := joinedPayload{GameID: gameID, TeamID: teamID, Role: "team"}
	if isAdmin {
		joined.Role = "admin"
	} else if step, err := h.engine.NextRound(ctx, teamID); err == nil {
		joined.Next = &step
	}
	reply := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	if reply(outboundMessage[any]{Type: "joined", Payload: joined}) {
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				break
			}
			if !reply(h.dispatch(ctx, gameID, principal, inbound)) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch runs one inbound message and returns the reply.
func (h *WSHandler) dispatch(ctx context.Context, gameID string, p domain.Principal, in inboundMessage) outboundMessage[any] {
	teamID := domain.ViewerTeamID(p)
	teamOnly := func(fn func() (string, any, error)) outboundMessage[any] {
		if teamID == "" {
			return errorMessage(domain.ErrNotPermitted)
		}
		typ, payload, err := fn()
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: typ, Payload: payload}
	}

	switch in.Type {
	case "submit":
		return teamOnly(func() (string, any, error) {
			var payload submitPayload
			if err := json.Unmarshal(in.Payload, &payload); err != nil {
				return "", nil, errors.New("invalid submit payload")
			}
			res, err := h.engine.Submit(ctx, teamID, payload.RoundID, domain.Submission(payload.Answers))
			return "submitResult", res, err
		})
	case "tick":
		return teamOnly(func() (string, any, error) {
			st, err := h.engine.TickAwayTime(ctx, teamID)
			return "awayTime", st, err
		})
	case "tab_switch":
		return teamOnly(func() (string, any, error) {
			st, err := h.engine.ReportTabSwitch(ctx, teamID)
			return "awayTime", st, err
		})
	case "away_time":
		return teamOnly(func() (string, any, error) {
			var payload awayPayload
			if err := json.Unmarshal(in.Payload, &payload); err != nil {
				return "", nil, errors.New("invalid away_time payload")
			}
			st, err := h.engine.ReportAwayTime(ctx, teamID, payload.Seconds)
			return "awayTime", st, err
		})
	case "next_round":
		return teamOnly(func() (string, any, error) {
			step, err := h.engine.NextRound(ctx, teamID)
			return "nextRound", step, err
		})
	case "progress":
		return teamOnly(func() (string, any, error) {
			pr, err := h.engine.Progress(ctx, teamID)
			return "progress", pr, err
		})
	case "leaderboard":
		lb, err := h.engine.Leaderboard(ctx, gameID, p)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "leaderboard", Payload: lb}
	case "scoresheet":
		if _, ok := p.(domain.AdminPrincipal); !ok {
			return errorMessage(domain.ErrNotPermitted)
		}
		sheet, err := h.engine.Scoresheet(ctx, gameID)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: "scoresheet", Payload: sheet}
	default:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}

func errorMessage(err error) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
}
