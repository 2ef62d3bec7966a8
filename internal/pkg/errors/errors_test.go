package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(CodeValidation, "frameNum must be positive")

	assert.Equal(t, CodeValidation, err.Code)
	assert.Equal(t, "frameNum must be positive", err.Message)
	assert.NotEmpty(t, err.Stack)
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple",
			err:      New(CodeValidation, "invalid"),
			contains: []string{"VALIDATION_ERROR", "invalid"},
		},
		{
			name:     "with op",
			err:      &Error{Code: CodeEncode, Message: "encoder exited", Op: "encode.run"},
			contains: []string{"encode.run", "ENCODE_FAILED", "encoder exited"},
		},
		{
			name:     "with underlying",
			err:      &Error{Code: CodeStorage, Message: "write frame", Err: fmt.Errorf("disk full")},
			contains: []string{"write frame", "disk full"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, c := range tt.contains {
				assert.Contains(t, tt.err.Error(), c)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("exit status 1")
	wrapped := Wrap(original, "encode.step", "h264 step failed")

	require.NotNil(t, wrapped)
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Equal(t, "encode.step", wrapped.Op)
	assert.Same(t, original, errors.Unwrap(wrapped))

	assert.Nil(t, Wrap(nil, "op", "msg"))
}

func TestWrapPreservesCode(t *testing.T) {
	original := ValidationField("scene", "scene is required")
	wrapped := Wrap(original, "ingest.receive", "rejected upload")

	assert.Equal(t, CodeValidation, wrapped.Code)
	assert.Equal(t, "scene", wrapped.Fields["field"])
}

func TestWrapWithCode(t *testing.T) {
	wrapped := WrapWithCode(fmt.Errorf("no such file"), CodeStorage, "ingest.persist", "write failed")
	assert.Equal(t, CodeStorage, wrapped.Code)
	assert.Nil(t, WrapWithCode(nil, CodeStorage, "op", "msg"))
}

func TestCodedWrappers(t *testing.T) {
	cause := fmt.Errorf("disk full")

	s := Storage(cause, "ingest.persist", "write failed")
	assert.Equal(t, CodeStorage, s.Code)
	assert.Same(t, cause, errors.Unwrap(s))
	assert.Contains(t, s.Stack[0].Function, "TestCodedWrappers")

	e := Encode(Validation("bad profile"), "encode.args", "build arguments")
	assert.Equal(t, CodeEncode, e.Code)
	assert.Nil(t, Storage(nil, "op", "msg"))
	assert.Nil(t, Encode(nil, "op", "msg"))

	r := Render(cause, "worker.render", "render sample-HD frames 1-4")
	assert.Equal(t, CodeRender, r.Code)
	assert.Equal(t, 500, r.HTTPStatus())
	assert.Nil(t, Render(nil, "op", "msg"))
}

func TestWrapfStackStartsAtCaller(t *testing.T) {
	w := Wrapf(fmt.Errorf("x"), "pipeline.seed", "seed %s", "sample-HD")
	require.NotEmpty(t, w.Stack)
	assert.Contains(t, w.Stack[0].Function, "TestWrapfStackStartsAtCaller")
	assert.Equal(t, "seed sample-HD", w.Message)
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:    400,
		CodeBadRequest:    400,
		CodeNotFound:      404,
		CodeConflict:      409,
		CodeFailedPrecond: 412,
		CodeInternal:      500,
		CodeStorage:       500,
		CodeEncode:        500,
		CodeUnavailable:   503,
		CodeTimeout:       504,
	}
	for code, status := range tests {
		assert.Equal(t, status, New(code, "x").HTTPStatus(), "code %s", code)
	}
}

func TestConstructors(t *testing.T) {
	nf := NotFound("render job", "sample-HD")
	assert.Equal(t, CodeNotFound, nf.Code)
	assert.Equal(t, "render job", nf.Fields["resource"])
	assert.Equal(t, "sample-HD", nf.Fields["id"])

	assert.Equal(t, CodeInternal, Internal("boom").Code)
	assert.Equal(t, "redis", Unavailable("redis").Fields["service"])
	assert.Equal(t, "bad 3", Validationf("bad %d", 3).Message)
}

func TestGetters(t *testing.T) {
	coded := New(CodeNotFound, "missing").WithField("id", "x")
	plain := fmt.Errorf("plain")

	assert.Equal(t, CodeNotFound, GetCode(coded))
	assert.Equal(t, CodeInternal, GetCode(plain))
	assert.Equal(t, 404, GetHTTPStatus(coded))
	assert.Equal(t, 500, GetHTTPStatus(plain))
	assert.Equal(t, "x", GetFields(coded)["id"])
	assert.Nil(t, GetFields(plain))

	assert.True(t, IsNotFound(coded))
	assert.False(t, IsValidation(coded))
	assert.True(t, IsConflict(New(CodeConflict, "c")))
}

func TestStackTrace(t *testing.T) {
	assert.Contains(t, New(CodeInternal, "x").StackTrace(), ".go:")
	assert.Empty(t, (&Error{}).StackTrace())
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := New(CodeConflict, "a")
	b := New(CodeConflict, "b")
	c := New(CodeValidation, "c")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))

	wrapped := fmt.Errorf("outer: %w", a)
	var target *Error
	require.True(t, As(wrapped, &target))
	assert.Equal(t, CodeConflict, target.Code)
	assert.True(t, Is(wrapped, b))
}
