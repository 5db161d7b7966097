package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jvsync/server/internal/resolver"
	"github.com/jvsync/server/internal/state"
	"github.com/jvsync/server/pkg/validator"
)

type iAuthority interface {
	RegisterSession(ctx context.Context, id uuid.UUID, out chan<- []byte) error
	UnregisterSession(ctx context.Context, id uuid.UUID) ([]string, error)
	Rename(ctx context.Context, id uuid.UUID, name, roomId string) error
	JoinRoom(ctx context.Context, id uuid.UUID, roomId string) error
	SetVideo(ctx context.Context, roomId, videoId, url, title string) error
	MarkReady(ctx context.Context, roomId string) (bool, error)
	CurrentVideo(ctx context.Context, roomId string) (string, error)
	History(ctx context.Context, roomId string) ([]state.HistoryEntry, error)
	MemberNames(ctx context.Context, roomId string) ([]string, error)
	ShouldAnnounceRewind(ctx context.Context, roomId string) (bool, error)
	Broadcast(ctx context.Context, roomId string, event any) error
	SendToOne(ctx context.Context, id uuid.UUID, event any) error
}

type iResolver interface {
	Resolve(ctx context.Context, videoId string) (resolver.Metadata, error)
}

type commandHandler func(ctx context.Context, sess *wsSession, raw json.RawMessage)

type controller struct {
	authority iAuthority
	resolver  iResolver
	upgrader  websocket.Upgrader
	validate  *validator.Validator
	logger    *slog.Logger
	heartbeat time.Duration
	routes    map[string]commandHandler
}

type Config struct {
	HeartbeatInterval time.Duration
}

func NewController(authority iAuthority, videoResolver iResolver, cfg *Config, logger *slog.Logger) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		authority: authority,
		resolver:  videoResolver,
		validate:  validator.NewValidator(),
		logger:    logger,
		heartbeat: cfg.HeartbeatInterval,
	}
	c.routes = c.initRoutes()

	return c
}
