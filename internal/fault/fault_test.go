package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Internal},
		{"plain", errors.New("boom"), Internal},
		{"tagged transient", Transientf("fetch", "status %d", 503), Transient},
		{"tagged auth wrapped", fmt.Errorf("search: %w", Authf("fetch", "rejected")), Auth},
		{"not found", New(NotFound, "lookup", nil), NotFound},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), Transient},
		{"net op", &net.OpError{Op: "dial", Err: errors.New("refused")}, Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	root := errors.New("root")
	err := New(Conflict, "insert post", root)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "insert post: root", err.Error())
	assert.Equal(t, "conflict", KindOf(err).String())
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsTransient(Transientf("op", "x")))
	assert.False(t, IsTransient(nil))
	assert.True(t, IsAuth(Authf("op", "x")))
	assert.True(t, IsNotFound(New(NotFound, "op", nil)))
	assert.Equal(t, "op: not_found", New(NotFound, "op", nil).Error())
}
