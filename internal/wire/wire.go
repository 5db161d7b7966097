// Package wire defines the JSON messages exchanged with clients. Both
// directions are tagged unions on a camelCase "type" discriminant with the
// payload fields inlined next to it.
package wire

// Envelope carries only the discriminant; the full frame is re-decoded
// into the matching command struct after routing.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> server commands.

const (
	CmdSetName         = "setName"
	CmdSetReady        = "setReady"
	CmdSendToRoom      = "sendToRoom"
	CmdSetVideo        = "setVideo"
	CmdSetPlaying      = "setPlaying"
	CmdSeeked          = "seeked"
	CmdSetPlaybackRate = "setPlaybackRate"
	CmdRewind          = "rewind"
	CmdPong            = "pong"
)

type SetNameCmd struct {
	Name   string `json:"name" validate:"required,max=64"`
	RoomId string `json:"roomId" validate:"required"`
}

type SetReadyCmd struct {
	RoomId string `json:"roomId" validate:"required"`
}

type SendToRoomCmd struct {
	RoomId string `json:"roomId" validate:"required"`
}

type SetVideoCmd struct {
	Url    string `json:"url" validate:"required"`
	RoomId string `json:"roomId" validate:"required"`
}

type SetPlayingCmd struct {
	Status bool   `json:"status"`
	RoomId string `json:"roomId" validate:"required"`
}

type SeekedCmd struct {
	Time   float64 `json:"time"`
	RoomId string  `json:"roomId" validate:"required"`
}

type SetPlaybackRateCmd struct {
	Rate   float64 `json:"rate"`
	RoomId string  `json:"roomId" validate:"required"`
}

type RewindCmd struct {
	Seconds float64 `json:"seconds"`
	RoomId  string  `json:"roomId" validate:"required"`
}

// Server -> client events. Constructors set the discriminant so callers
// can hand any event straight to json.Marshal.

type SetPlayingEvent struct {
	Type   string `json:"type"`
	Status bool   `json:"status"`
}

func NewSetPlayingEvent(status bool) SetPlayingEvent {
	return SetPlayingEvent{Type: "setPlaying", Status: status}
}

type ConnectedClientsEvent struct {
	Type    string   `json:"type"`
	Clients []string `json:"clients"`
}

func NewConnectedClientsEvent(clients []string) ConnectedClientsEvent {
	return ConnectedClientsEvent{Type: "connectedClients", Clients: clients}
}

type SetVideoEvent struct {
	Type              string `json:"type"`
	VideoId           string `json:"videoId"`
	IsRestrictedVideo bool   `json:"isRestrictedVideo"`
}

func NewSetVideoEvent(videoId string, isRestrictedVideo bool) SetVideoEvent {
	return SetVideoEvent{Type: "setVideo", VideoId: videoId, IsRestrictedVideo: isRestrictedVideo}
}

type HistoryEntry struct {
	Url     string `json:"url"`
	VideoId string `json:"videoId"`
	Title   string `json:"title"`
}

type UpdateHistoryEvent struct {
	Type    string         `json:"type"`
	History []HistoryEntry `json:"history"`
}

func NewUpdateHistoryEvent(history []HistoryEntry) UpdateHistoryEvent {
	return UpdateHistoryEvent{Type: "updateHistory", History: history}
}

type SeekedEvent struct {
	Type string  `json:"type"`
	Time float64 `json:"time"`
}

func NewSeekedEvent(time float64) SeekedEvent {
	return SeekedEvent{Type: "seeked", Time: time}
}

type SetPlaybackRateEvent struct {
	Type string  `json:"type"`
	Rate float64 `json:"rate"`
}

func NewSetPlaybackRateEvent(rate float64) SetPlaybackRateEvent {
	return SetPlaybackRateEvent{Type: "setPlaybackRate", Rate: rate}
}

type RewindEvent struct {
	Type           string  `json:"type"`
	Seconds        float64 `json:"seconds"`
	ShouldAnnounce bool    `json:"shouldAnnounce"`
}

func NewRewindEvent(seconds float64, shouldAnnounce bool) RewindEvent {
	return RewindEvent{Type: "rewind", Seconds: seconds, ShouldAnnounce: shouldAnnounce}
}

type UnlockSetVideoEvent struct {
	Type string `json:"type"`
}

func NewUnlockSetVideoEvent() UnlockSetVideoEvent {
	return UnlockSetVideoEvent{Type: "unlockSetVideo"}
}

type PingEvent struct {
	Type string `json:"type"`
}

func NewPingEvent() PingEvent {
	return PingEvent{Type: "ping"}
}
