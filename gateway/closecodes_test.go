package gateway

import (
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassifyClose(t *testing.T) {
	kind, err := ClassifyClose(4004)
	assert.Equal(t, DisconnectFatal, kind)
	assert.Equal(t, ErrBadAuth, err)

	for _, code := range []int{4010, 4011, 4012, 4013, 4014} {
		kind, err = ClassifyClose(code)
		assert.Equal(t, DisconnectFatal, kind, "code %d", code)
		assert.Error(t, err)
	}

	for _, code := range []int{0, 1000, 1001, 1006, 4000, 4007, 4009, 4999} {
		kind, err = ClassifyClose(code)
		assert.Equal(t, DisconnectRecoverable, kind, "code %d", code)
		assert.NoError(t, err)
	}
}

func TestFatalErrorUnwrap(t *testing.T) {
	var err error = &FatalError{ShardID: 3, Code: 4004, Reason: "Authentication failed.", Err: ErrBadAuth}
	wrapped := errors.WrapIf(err, "shard session")

	assert.True(t, IsFatal(wrapped))
	assert.True(t, errors.Is(wrapped, ErrBadAuth))
	assert.False(t, IsFatal(errors.New("something else")))
	assert.Contains(t, err.Error(), "4004")
}
