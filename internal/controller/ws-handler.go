package controller

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jvsync/server/internal/resolver"
	"github.com/jvsync/server/internal/wire"
	"github.com/jvsync/server/pkg/youtube"
)

func (c *controller) initRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		wire.CmdSetName:         c.handleSetName,
		wire.CmdSetReady:        c.handleSetReady,
		wire.CmdSendToRoom:      c.handleSendToRoom,
		wire.CmdSetVideo:        c.handleSetVideo,
		wire.CmdSetPlaying:      c.handleSetPlaying,
		wire.CmdSeeked:          c.handleSeeked,
		wire.CmdSetPlaybackRate: c.handleSetPlaybackRate,
		wire.CmdRewind:          c.handleRewind,
		wire.CmdPong:            c.handlePong,
	}
}

// dispatch routes one inbound frame. Unrecognized and malformed payloads
// are dropped without a protocol error.
func (c *controller) dispatch(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	var envelope wire.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.DebugContext(ctx, "dropping malformed frame", "error", err)
		return
	}

	handler, ok := c.routes[envelope.Type]
	if !ok {
		c.logger.DebugContext(ctx, "dropping unknown command", "command", envelope.Type)
		return
	}

	handler(ctx, sess, raw)
}

// decodeCommand unmarshals and validates a command; failures mean the
// frame is dropped exactly like malformed JSON.
func decodeCommand[T any](c *controller, ctx context.Context, raw json.RawMessage) (T, bool) {
	var cmd T
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.logger.DebugContext(ctx, "dropping malformed command", "error", err)
		return cmd, false
	}

	if err := c.validate.Validate(cmd); err != nil {
		c.logger.DebugContext(ctx, "dropping invalid command", "error", err)
		return cmd, false
	}

	return cmd, true
}

func (c *controller) handleSetName(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SetNameCmd](c, ctx, raw)
	if !ok {
		return
	}

	if err := c.authority.Rename(ctx, sess.id, cmd.Name, cmd.RoomId); err != nil {
		c.logger.WarnContext(ctx, "failed to rename", "room_id", cmd.RoomId, "error", err)
		return
	}

	c.broadcastMemberNames(ctx, cmd.RoomId)
}

func (c *controller) handleSetReady(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SetReadyCmd](c, ctx, raw)
	if !ok {
		return
	}

	quorum, err := c.authority.MarkReady(ctx, cmd.RoomId)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to mark ready", "room_id", cmd.RoomId, "error", err)
		return
	}

	if quorum {
		c.broadcast(ctx, cmd.RoomId, wire.NewSetPlayingEvent(true))
	}
}

func (c *controller) handleSendToRoom(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SendToRoomCmd](c, ctx, raw)
	if !ok {
		return
	}

	if err := c.authority.JoinRoom(ctx, sess.id, cmd.RoomId); err != nil {
		c.logger.WarnContext(ctx, "failed to join room", "room_id", cmd.RoomId, "error", err)
		return
	}

	c.logger.InfoContext(ctx, "session joined room", "room_id", cmd.RoomId)

	c.broadcastHistory(ctx, cmd.RoomId)
	c.broadcastMemberNames(ctx, cmd.RoomId)
}

func (c *controller) handleSetVideo(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SetVideoCmd](c, ctx, raw)
	if !ok {
		return
	}

	videoId := youtube.ExtractVideoId(cmd.Url)
	if videoId == "" {
		c.logger.DebugContext(ctx, "ignoring unsupported video url", "url", cmd.Url)
		return
	}

	currentVideo, err := c.authority.CurrentVideo(ctx, cmd.RoomId)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get current video", "room_id", cmd.RoomId, "error", err)
		return
	}

	// Selecting the already-current video is a no-op.
	if currentVideo == videoId {
		return
	}

	metadata, err := c.resolver.Resolve(ctx, videoId)
	if err != nil {
		if errors.Is(err, resolver.ErrProviderExhausted) {
			c.logger.WarnContext(ctx, "no provider resolved video", "video_id", videoId)
		} else {
			c.logger.WarnContext(ctx, "failed to resolve video", "video_id", videoId, "error", err)
		}
		return
	}

	if err := c.authority.SetVideo(ctx, cmd.RoomId, videoId, cmd.Url, metadata.Title); err != nil {
		c.logger.WarnContext(ctx, "failed to set video", "room_id", cmd.RoomId, "error", err)
		return
	}

	// Restricted videos are recorded and become the room's current video
	// but are never announced; viewers keep the prior playback target.
	if !metadata.IsFamilyFriendly {
		c.logger.InfoContext(ctx, "suppressing restricted video", "video_id", videoId, "room_id", cmd.RoomId)
		return
	}

	c.broadcast(ctx, cmd.RoomId, wire.NewSetVideoEvent(videoId, false))
	c.broadcastHistory(ctx, cmd.RoomId)
}

func (c *controller) handleSetPlaying(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SetPlayingCmd](c, ctx, raw)
	if !ok {
		return
	}

	c.broadcast(ctx, cmd.RoomId, wire.NewSetPlayingEvent(cmd.Status))
}

func (c *controller) handleSeeked(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SeekedCmd](c, ctx, raw)
	if !ok {
		return
	}

	c.broadcast(ctx, cmd.RoomId, wire.NewSeekedEvent(cmd.Time))
}

func (c *controller) handleSetPlaybackRate(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.SetPlaybackRateCmd](c, ctx, raw)
	if !ok {
		return
	}

	c.broadcast(ctx, cmd.RoomId, wire.NewSetPlaybackRateEvent(cmd.Rate))
}

func (c *controller) handleRewind(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	cmd, ok := decodeCommand[wire.RewindCmd](c, ctx, raw)
	if !ok {
		return
	}

	shouldAnnounce, err := c.authority.ShouldAnnounceRewind(ctx, cmd.RoomId)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read rewind policy", "room_id", cmd.RoomId, "error", err)
		return
	}

	c.broadcast(ctx, cmd.RoomId, wire.NewRewindEvent(cmd.Seconds, shouldAnnounce))
}

func (c *controller) handlePong(ctx context.Context, sess *wsSession, raw json.RawMessage) {
	sess.alive.Store(true)
	c.logger.DebugContext(ctx, "client is alive")
}

func (c *controller) broadcast(ctx context.Context, roomId string, event any) {
	if err := c.authority.Broadcast(ctx, roomId, event); err != nil {
		c.logger.WarnContext(ctx, "failed to broadcast", "room_id", roomId, "error", err)
	}
}

func (c *controller) broadcastMemberNames(ctx context.Context, roomId string) {
	names, err := c.authority.MemberNames(ctx, roomId)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get member names", "room_id", roomId, "error", err)
		return
	}

	c.broadcast(ctx, roomId, wire.NewConnectedClientsEvent(names))
}

func (c *controller) broadcastHistory(ctx context.Context, roomId string) {
	history, err := c.authority.History(ctx, roomId)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get history", "room_id", roomId, "error", err)
		return
	}

	entries := make([]wire.HistoryEntry, 0, len(history))
	for _, entry := range history {
		entries = append(entries, wire.HistoryEntry{Url: entry.Url, VideoId: entry.VideoId, Title: entry.Title})
	}

	c.broadcast(ctx, roomId, wire.NewUpdateHistoryEvent(entries))
}
