// Package state holds the single owner of all room, session and outbound
// socket state. One goroutine drains a mailbox of typed requests, so every
// mutation is applied in submission order and no locks are needed around
// the room maps. Other components never hold a socket reference; they ask
// the authority to write.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
)

// HistoryEntry is one prior video selection. Entries are append-only.
type HistoryEntry struct {
	Url     string
	VideoId string
	Title   string
}

type session struct {
	out chan<- []byte
}

type member struct {
	name string
}

type room struct {
	members         map[uuid.UUID]*member
	readyCount      int
	currentVideo    string
	history         []HistoryEntry
	announceRewinds bool
}

// mailboxDepth bounds the request queue; producers block when it fills.
const mailboxDepth = 256

type request interface {
	apply(c *coordinator)
}

type coordinator struct {
	rooms    map[string]*room
	sessions map[uuid.UUID]*session
	logger   *slog.Logger
}

type Authority struct {
	mailbox chan request
	logger  *slog.Logger
}

func NewAuthority(logger *slog.Logger) *Authority {
	return &Authority{
		mailbox: make(chan request, mailboxDepth),
		logger:  logger,
	}
}

// Run drains the mailbox until ctx is cancelled. It must be running for
// any of the request methods to complete.
func (a *Authority) Run(ctx context.Context) {
	c := &coordinator{
		rooms:    make(map[string]*room),
		sessions: make(map[uuid.UUID]*session),
		logger:   a.logger,
	}

	for {
		select {
		case req := <-a.mailbox:
			req.apply(c)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Authority) submit(ctx context.Context, req request) error {
	select {
	case a.mailbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterSession stores the session's outbound channel. The session has
// no room membership until it joins one.
func (a *Authority) RegisterSession(ctx context.Context, id uuid.UUID, out chan<- []byte) error {
	req := &registerSessionReq{id: id, out: out, reply: make(chan struct{}, 1)}
	if err := a.submit(ctx, req); err != nil {
		return err
	}

	select {
	case <-req.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnregisterSession drops the session's outbound channel and removes it
// from every room it joined, deleting each room left empty. It returns
// the rooms that still have members so the caller can notify them.
func (a *Authority) UnregisterSession(ctx context.Context, id uuid.UUID) ([]string, error) {
	req := &unregisterSessionReq{id: id, reply: make(chan []string, 1)}
	if err := a.submit(ctx, req); err != nil {
		return nil, err
	}

	select {
	case affected := <-req.reply:
		return affected, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Rename updates the session's display name within the given room. It
// fails with ErrSessionNotFound when the session is not a member of that
// room.
func (a *Authority) Rename(ctx context.Context, id uuid.UUID, name, roomId string) error {
	req := &renameReq{id: id, name: name, roomId: roomId, reply: make(chan error, 1)}
	return a.roundTrip(ctx, req, req.reply)
}

// JoinRoom inserts the session into the room, creating the room lazily.
// The member's display name defaults to the session id.
func (a *Authority) JoinRoom(ctx context.Context, id uuid.UUID, roomId string) error {
	req := &joinRoomReq{id: id, roomId: roomId, reply: make(chan error, 1)}
	return a.roundTrip(ctx, req, req.reply)
}

// SetVideo sets the room's current video, resets the readiness counter
// and appends a history entry.
func (a *Authority) SetVideo(ctx context.Context, roomId, videoId, url, title string) error {
	req := &setVideoReq{roomId: roomId, videoId: videoId, url: url, title: title, reply: make(chan error, 1)}
	return a.roundTrip(ctx, req, req.reply)
}

// MarkReady increments the room's readiness counter. quorum is true
// exactly when the counter reaches the member count, at which point the
// counter resets to zero.
func (a *Authority) MarkReady(ctx context.Context, roomId string) (quorum bool, err error) {
	req := &markReadyReq{roomId: roomId, reply: make(chan markReadyResult, 1)}
	if err := a.submit(ctx, req); err != nil {
		return false, err
	}

	select {
	case res := <-req.reply:
		return res.quorum, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// CurrentVideo returns the room's currently selected video id.
func (a *Authority) CurrentVideo(ctx context.Context, roomId string) (string, error) {
	req := &currentVideoReq{roomId: roomId, reply: make(chan currentVideoResult, 1)}
	if err := a.submit(ctx, req); err != nil {
		return "", err
	}

	select {
	case res := <-req.reply:
		return res.videoId, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// History returns a copy of the room's selection history.
func (a *Authority) History(ctx context.Context, roomId string) ([]HistoryEntry, error) {
	req := &historyReq{roomId: roomId, reply: make(chan historyResult, 1)}
	if err := a.submit(ctx, req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.reply:
		return res.history, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MemberNames returns the display names of the room's members, sorted
// for deterministic payloads.
func (a *Authority) MemberNames(ctx context.Context, roomId string) ([]string, error) {
	req := &memberNamesReq{roomId: roomId, reply: make(chan memberNamesResult, 1)}
	if err := a.submit(ctx, req); err != nil {
		return nil, err
	}

	select {
	case res := <-req.reply:
		return res.names, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ShouldAnnounceRewind reads the room's rewind-announcement policy.
func (a *Authority) ShouldAnnounceRewind(ctx context.Context, roomId string) (bool, error) {
	req := &rewindPolicyReq{roomId: roomId, reply: make(chan rewindPolicyResult, 1)}
	if err := a.submit(ctx, req); err != nil {
		return false, err
	}

	select {
	case res := <-req.reply:
		return res.announce, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Broadcast serializes event once and writes it to every member of the
// room. Individual write failures are swallowed; a dead socket is torn
// down by its own disconnect path, never by broadcast.
func (a *Authority) Broadcast(ctx context.Context, roomId string, event any) error {
	req := &broadcastReq{roomId: roomId, event: event, reply: make(chan error, 1)}
	return a.roundTrip(ctx, req, req.reply)
}

// SendToOne writes event to a single session's outbound channel.
func (a *Authority) SendToOne(ctx context.Context, id uuid.UUID, event any) error {
	req := &sendToOneReq{id: id, event: event, reply: make(chan error, 1)}
	return a.roundTrip(ctx, req, req.reply)
}

func (a *Authority) roundTrip(ctx context.Context, req request, reply <-chan error) error {
	if err := a.submit(ctx, req); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request types. Each carries its own reply channel; apply runs on the
// coordinator goroutine only.

type registerSessionReq struct {
	id    uuid.UUID
	out   chan<- []byte
	reply chan struct{}
}

func (r *registerSessionReq) apply(c *coordinator) {
	c.sessions[r.id] = &session{out: r.out}
	r.reply <- struct{}{}
}

type unregisterSessionReq struct {
	id    uuid.UUID
	reply chan []string
}

func (r *unregisterSessionReq) apply(c *coordinator) {
	delete(c.sessions, r.id)

	var affected []string
	for roomId, rm := range c.rooms {
		if _, ok := rm.members[r.id]; !ok {
			continue
		}

		delete(rm.members, r.id)
		if len(rm.members) == 0 {
			delete(c.rooms, roomId)
			continue
		}

		// keep the readiness counter within [0, member_count]
		if rm.readyCount > len(rm.members) {
			rm.readyCount = len(rm.members)
		}
		affected = append(affected, roomId)
	}
	slices.Sort(affected)

	r.reply <- affected
}

type renameReq struct {
	id     uuid.UUID
	name   string
	roomId string
	reply  chan error
}

func (r *renameReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- ErrSessionNotFound
		return
	}

	m, ok := rm.members[r.id]
	if !ok {
		r.reply <- ErrSessionNotFound
		return
	}

	m.name = r.name
	r.reply <- nil
}

type joinRoomReq struct {
	id     uuid.UUID
	roomId string
	reply  chan error
}

func (r *joinRoomReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		rm = &room{
			members:         make(map[uuid.UUID]*member),
			announceRewinds: true,
		}
		c.rooms[r.roomId] = rm
	}

	rm.members[r.id] = &member{name: r.id.String()}
	r.reply <- nil
}

type setVideoReq struct {
	roomId  string
	videoId string
	url     string
	title   string
	reply   chan error
}

func (r *setVideoReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- ErrRoomNotFound
		return
	}

	rm.currentVideo = r.videoId
	rm.readyCount = 0
	rm.history = append(rm.history, HistoryEntry{Url: r.url, VideoId: r.videoId, Title: r.title})
	r.reply <- nil
}

type markReadyResult struct {
	quorum bool
	err    error
}

type markReadyReq struct {
	roomId string
	reply  chan markReadyResult
}

func (r *markReadyReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- markReadyResult{err: ErrRoomNotFound}
		return
	}

	rm.readyCount++
	if rm.readyCount >= len(rm.members) {
		rm.readyCount = 0
		r.reply <- markReadyResult{quorum: true}
		return
	}

	r.reply <- markReadyResult{}
}

type currentVideoResult struct {
	videoId string
	err     error
}

type currentVideoReq struct {
	roomId string
	reply  chan currentVideoResult
}

func (r *currentVideoReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- currentVideoResult{err: ErrRoomNotFound}
		return
	}

	r.reply <- currentVideoResult{videoId: rm.currentVideo}
}

type historyResult struct {
	history []HistoryEntry
	err     error
}

type historyReq struct {
	roomId string
	reply  chan historyResult
}

func (r *historyReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- historyResult{err: ErrRoomNotFound}
		return
	}

	r.reply <- historyResult{history: slices.Clone(rm.history)}
}

type memberNamesResult struct {
	names []string
	err   error
}

type memberNamesReq struct {
	roomId string
	reply  chan memberNamesResult
}

func (r *memberNamesReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- memberNamesResult{err: ErrRoomNotFound}
		return
	}

	names := make([]string, 0, len(rm.members))
	for _, m := range maps.Values(rm.members) {
		names = append(names, m.name)
	}
	slices.Sort(names)

	r.reply <- memberNamesResult{names: names}
}

type rewindPolicyResult struct {
	announce bool
	err      error
}

type rewindPolicyReq struct {
	roomId string
	reply  chan rewindPolicyResult
}

func (r *rewindPolicyReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- rewindPolicyResult{err: ErrRoomNotFound}
		return
	}

	r.reply <- rewindPolicyResult{announce: rm.announceRewinds}
}

type broadcastReq struct {
	roomId string
	event  any
	reply  chan error
}

func (r *broadcastReq) apply(c *coordinator) {
	rm, ok := c.rooms[r.roomId]
	if !ok {
		r.reply <- ErrRoomNotFound
		return
	}

	payload, err := json.Marshal(r.event)
	if err != nil {
		r.reply <- err
		return
	}

	for id := range rm.members {
		s, ok := c.sessions[id]
		if !ok {
			continue
		}
		c.write(id, s, payload)
	}

	r.reply <- nil
}

type sendToOneReq struct {
	id    uuid.UUID
	event any
	reply chan error
}

func (r *sendToOneReq) apply(c *coordinator) {
	s, ok := c.sessions[r.id]
	if !ok {
		r.reply <- ErrSessionNotFound
		return
	}

	payload, err := json.Marshal(r.event)
	if err != nil {
		r.reply <- err
		return
	}

	c.write(r.id, s, payload)
	r.reply <- nil
}

// write is best-effort: a full outbound buffer means the connection is
// stalled or gone, and its own disconnect path cleans it up.
func (c *coordinator) write(id uuid.UUID, s *session, payload []byte) {
	select {
	case s.out <- payload:
	default:
		c.logger.Debug("dropping write to stalled session", "session_id", id.String())
	}
}
