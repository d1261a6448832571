package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrKindInvalidInput, "must set db type."),
			want: "[invalid_input] must set db type.",
		},
		{
			name: "with cause",
			err:  Wrap(ErrKindConnectionFailed, "user or passwd error", errors.New("auth failed")),
			want: "[connection_failed] user or passwd error: auth failed",
		},
		{
			name: "formatted",
			err:  Newf(ErrKindInvalidInput, "db_id %s already exists.", "pg1"),
			want: "[invalid_input] db_id pg1 already exists.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(ErrKindNotFound, "task not exists"))

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsTimeout(wrapped))
	assert.True(t, IsQueryFailed(New(ErrKindQueryFailed, "x")))
	assert.True(t, IsPermissionDenied(New(ErrKindPermissionDenied, "x")))
	assert.True(t, IsUnsupported(New(ErrKindUnsupported, "x")))
	assert.Equal(t, ErrKindUnknown, KindOf(errors.New("plain")))
}

func TestFromContext(t *testing.T) {
	assert.True(t, IsCanceled(FromContext(context.Canceled)))
	assert.True(t, IsTimeout(FromContext(fmt.Errorf("poll: %w", context.DeadlineExceeded))))

	plain := errors.New("boom")
	assert.Same(t, plain, FromContext(plain))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "user or passwd error",
		Message(fmt.Errorf("set pass: %w", Wrap(ErrKindConnectionFailed, "user or passwd error", errors.New("x")))))
	assert.Equal(t, "boom", Message(errors.New("boom")))
}

func TestUnwrap(t *testing.T) {
	cause := context.Canceled
	err := Wrap(ErrKindCanceled, "stopped", cause)
	assert.True(t, errors.Is(err, context.Canceled))
}
