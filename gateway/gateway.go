// Package gateway implements a client for the real-time gateway: a websocket
// session per shard that performs the hello/heartbeat/identify/resume
// handshake, classifies disconnects and throttles every outbound frame.
package gateway

import (
	"encoding/json"
	"runtime"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// APIVersion is the gateway and REST api version used by default.
var APIVersion = "10"

// DefaultGatewayURL is the gateway host dialed when none is configured.
const DefaultGatewayURL = "wss://gateway.discord.gg/"

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// GatewayOP represents a gateway operation
type GatewayOP int

const (
	GatewayOPDispatch            GatewayOP = 0  // (Receive)
	GatewayOPHeartbeat           GatewayOP = 1  // (Send/Receive)
	GatewayOPIdentify            GatewayOP = 2  // (Send)
	GatewayOPPresenceUpdate      GatewayOP = 3  // (Send)
	GatewayOPVoiceStateUpdate    GatewayOP = 4  // (Send)
	GatewayOPResume              GatewayOP = 6  // (Send)
	GatewayOPReconnect           GatewayOP = 7  // (Receive)
	GatewayOPRequestGuildMembers GatewayOP = 8  // (Send)
	GatewayOPInvalidSession      GatewayOP = 9  // (Receive)
	GatewayOPHello               GatewayOP = 10 // (Receive)
	GatewayOPHeartbeatACK        GatewayOP = 11 // (Receive)
)

var opNames = map[GatewayOP]string{
	GatewayOPDispatch:            "DISPATCH",
	GatewayOPHeartbeat:           "HEARTBEAT",
	GatewayOPIdentify:            "IDENTIFY",
	GatewayOPPresenceUpdate:      "PRESENCE_UPDATE",
	GatewayOPVoiceStateUpdate:    "VOICE_STATE_UPDATE",
	GatewayOPResume:              "RESUME",
	GatewayOPReconnect:           "RECONNECT",
	GatewayOPRequestGuildMembers: "REQUEST_GUILD_MEMBERS",
	GatewayOPInvalidSession:      "INVALID_SESSION",
	GatewayOPHello:               "HELLO",
	GatewayOPHeartbeatACK:        "HEARTBEAT_ACK",
}

func (op GatewayOP) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}

	return "OP" + strconv.Itoa(int(op))
}

// GatewayStatus is the state of a shard session
type GatewayStatus int

const (
	GatewayStatusDisconnected GatewayStatus = iota
	GatewayStatusConnecting
	GatewayStatusAwaitingHello
	GatewayStatusHandshaking
	GatewayStatusResuming
	GatewayStatusReady
	GatewayStatusReconnecting
	GatewayStatusFatal
)

func (gs GatewayStatus) String() string {
	switch gs {
	case GatewayStatusDisconnected:
		return "Disconnected"
	case GatewayStatusConnecting:
		return "Connecting"
	case GatewayStatusAwaitingHello:
		return "AwaitingHello"
	case GatewayStatusHandshaking:
		return "Handshaking"
	case GatewayStatusResuming:
		return "Resuming"
	case GatewayStatusReady:
		return "Ready"
	case GatewayStatusReconnecting:
		return "Reconnecting"
	case GatewayStatusFatal:
		return "Fatal"
	}

	return "??"
}

// Connected returns true for the states in which a socket is open
func (gs GatewayStatus) Connected() bool {
	switch gs {
	case GatewayStatusAwaitingHello, GatewayStatusHandshaking, GatewayStatusResuming, GatewayStatusReady:
		return true
	}
	return false
}

// Frame is a single decoded gateway payload
type Frame struct {
	Operation GatewayOP       `json:"op"`
	Data      json.RawMessage `json:"d"`
	Sequence  *int64          `json:"s"`
	Type      string          `json:"t"`
}

// DecodeFrame decodes a raw gateway message
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := jsonCodec.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

type outgoingEvent struct {
	Operation GatewayOP   `json:"op"`
	Data      interface{} `json:"d"`
}

func encodeFrame(op GatewayOP, data interface{}) ([]byte, error) {
	return jsonCodec.Marshal(outgoingEvent{Operation: op, Data: data})
}

// IdentifyProperties is sent with every identify
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// DefaultProperties returns the properties identify sends unless overridden
func DefaultProperties() IdentifyProperties {
	return IdentifyProperties{
		OS:      runtime.GOOS,
		Browser: "dgateway",
		Device:  "dgateway",
	}
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    Intent             `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
	Shard      [2]int             `json:"shard"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// User is the identity the gateway reports for the connected bot
type User struct {
	ID            int64  `json:"id,string"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Bot           bool   `json:"bot"`
}

// Application is the partial application object included in ready
type Application struct {
	ID    int64 `json:"id,string"`
	Flags int   `json:"flags"`
}

// Ready is the payload of the READY dispatch
type Ready struct {
	Version          int          `json:"v"`
	User             *User        `json:"user"`
	SessionID        string       `json:"session_id"`
	ResumeGatewayURL string       `json:"resume_gateway_url"`
	Shard            *[2]int      `json:"shard"`
	Application      *Application `json:"application"`
}

// ApplicationID returns the application id from ready, falling back to the bot user id
func (r *Ready) ApplicationID() int64 {
	if r.Application != nil && r.Application.ID != 0 {
		return r.Application.ID
	}
	if r.User != nil {
		return r.User.ID
	}
	return 0
}

// UpdateStatusData is the payload of a presence update
type UpdateStatusData struct {
	IdleSince  *int64      `json:"since"`
	Activities []*Activity `json:"activities"`
	Status     string      `json:"status"`
	AFK        bool        `json:"afk"`
}

// Activity is shown in the presence of the bot
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// RequestGuildMembersData is the payload of a request guild members command
type RequestGuildMembersData struct {
	GuildID   int64    `json:"guild_id,string"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}
