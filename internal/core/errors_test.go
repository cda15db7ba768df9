package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeSeesThroughWrapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("connect transport tr-1: %w", ErrNotFound), "NOT_FOUND"},
		{fmt.Errorf("join r2: already in room r1: %w", ErrStateConflict), "STATE_CONFLICT"},
		{fmt.Errorf("join r2: member of r1: %w", ErrAlreadyInRoom), "STATE_CONFLICT"},
		{fmt.Errorf("produce: %w", ErrEngineUnavailable), "ENGINE_UNAVAILABLE"},
		{fmt.Errorf("createTransport: %w", ErrTimeout), "TIMEOUT"},
		{fmt.Errorf("produce: dtls not ready: %w", ErrEngineFailure), "ENGINE_FAILURE"},
		{fmt.Errorf("something else entirely"), "ENGINE_FAILURE"},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, ErrorCode(c.err), c.err.Error())
	}
}
