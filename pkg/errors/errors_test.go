package errors

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	assert.Nil(t, WithContext(nil, "ignored"))

	err := WithContext(WithContext(FileNotFound{Path: "a.txt"}, "open"), "upload")
	assert.Equal(t, `upload: open: "a.txt" does not exist`, err.Error())
	assert.Equal(t, FileNotFound{Path: "a.txt"}, RootCause(err))

	var notFound FileNotFound
	assert.True(t, As(err, &notFound))
	assert.Equal(t, "a.txt", notFound.Path)
}

func TestGetPrintableMessage(t *testing.T) {
	friendly := NewFriendlyError("%q is not a directory", "/tmp/x")
	assert.Equal(t, `"/tmp/x" is not a directory`,
		GetPrintableMessage(WithContext(friendly, "parse config")))
	assert.Equal(t, "plain: oops", GetPrintableMessage(WithContext(New("oops"), "plain")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(RemoteFailure{Err: New("connection reset")}))
	assert.True(t, IsTransient(WithContext(RemoteFailure{Err: New("timeout")}, "read block")))
	assert.False(t, IsTransient(ErrResourceBusy))
	assert.False(t, IsTransient(&os.PathError{Op: "open", Path: "x", Err: os.ErrPermission}))
}

func TestMarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exp  error
	}{
		{
			name: "Nil",
			err:  nil,
			exp:  nil,
		},
		{
			name: "Busy",
			err:  WithContext(ErrResourceBusy, "open"),
			exp:  ErrResourceBusy,
		},
		{
			name: "SessionInvalid",
			err:  ErrSessionInvalid,
			exp:  ErrSessionInvalid,
		},
		{
			name: "NotFound",
			err:  WithContext(FileNotFound{Path: "b.txt"}, "open"),
			exp:  FileNotFound{Path: "b.txt"},
		},
		{
			name: "Unknown",
			err:  New("disk on fire"),
			exp:  New("disk on fire"),
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, Unmarshal(nil, Marshal(test.err)))
		})
	}
}

func TestUnmarshalTransportError(t *testing.T) {
	transportErr := New("unavailable")
	err := Unmarshal(transportErr, &Error{Kind: KindBusy})
	assert.Equal(t, RemoteFailure{Err: transportErr}, err)
	assert.True(t, IsTransient(err))
}
