package fetcher

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{name: "too many requests", status: 429, transient: true},
		{name: "internal server error", status: 500, transient: true},
		{name: "bad gateway", status: 502, transient: true},
		{name: "not found", status: 404, transient: false},
		{name: "forbidden", status: 403, transient: false},
		{name: "gone", status: 410, transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ClassifyStatus(tt.status)
			require.Error(t, err)
			require.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestClassifyErrCancellationIsPermanent(t *testing.T) {
	t.Parallel()

	err := ClassifyErr(context.Canceled)
	require.False(t, IsTransient(err))
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyErrTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	require.True(t, IsTransient(ClassifyErr(context.DeadlineExceeded)))

	opErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	require.True(t, IsTransient(ClassifyErr(opErr)))
}

func TestClassifyErrPassesThroughClassified(t *testing.T) {
	t.Parallel()

	original := &TransientError{StatusCode: 503, Err: errors.New("http status 503")}
	require.Same(t, error(original), ClassifyErr(original))

	permanent := &PermanentError{StatusCode: 404, Err: errors.New("http status 404")}
	require.Same(t, error(permanent), ClassifyErr(permanent))
}

func TestClassifyErrUnknownIsPermanent(t *testing.T) {
	t.Parallel()

	err := ClassifyErr(errors.New("malformed URL"))
	require.False(t, IsTransient(err))
}

func TestPermanentErrorMessageIncludesAttempts(t *testing.T) {
	t.Parallel()

	err := &PermanentError{Attempts: 3, Err: errors.New("http status 503")}
	require.Contains(t, err.Error(), "3 attempts")
}
