package gateway

import (
	"fmt"

	"emperror.dev/errors"
)

// Errors returned for close codes that can never succeed by reconnecting
var (
	ErrBadAuth            = errors.NewPlain("authentication failed")
	ErrInvalidShard       = errors.NewPlain("invalid shard")
	ErrShardingRequired   = errors.NewPlain("sharding required")
	ErrInvalidAPIVersion  = errors.NewPlain("invalid api version")
	ErrInvalidIntents     = errors.NewPlain("invalid intent(s)")
	ErrDisallowedIntents  = errors.NewPlain("disallowed intent(s)")
	ErrSessionInvalidated = errors.NewPlain("session invalidated")
)

var fatalCloseCodes = map[int]error{
	4004: ErrBadAuth,
	4010: ErrInvalidShard,
	4011: ErrShardingRequired,
	4012: ErrInvalidAPIVersion,
	4013: ErrInvalidIntents,
	4014: ErrDisallowedIntents,
}

// DisconnectKind is the classification of a closed connection
type DisconnectKind int

const (
	DisconnectRecoverable DisconnectKind = iota
	DisconnectFatal
)

func (k DisconnectKind) String() string {
	if k == DisconnectFatal {
		return "fatal"
	}
	return "recoverable"
}

// ClassifyClose looks up a close code; codes not in the fatal table
// (including 0 for "no close frame") are recoverable.
func ClassifyClose(code int) (DisconnectKind, error) {
	if err, ok := fatalCloseCodes[code]; ok {
		return DisconnectFatal, err
	}
	return DisconnectRecoverable, nil
}

// CloseError is returned by Conn.ReadMessage when the server sent a close frame
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// FatalError is returned when the gateway closed the connection with a code
// that makes retrying pointless, e.g. a rejected token.
type FatalError struct {
	ShardID int
	Code    int
	Reason  string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("shard %d: fatal gateway close %d (%s): %v", e.ShardID, e.Code, e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if err (or anything it wraps) is a *FatalError
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
