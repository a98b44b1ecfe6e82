package errors

// Kind identifies an error across the RPC boundary.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindBusy            Kind = "busy"
	KindSessionInvalid  Kind = "session-invalid"
	KindNotFound        Kind = "not-found"
	KindInvalidArgument Kind = "invalid-argument"
	KindFileChanged     Kind = "file-changed"
)

// Error is the serialized form of an error that's sent in RPC responses.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Marshal converts `err` into its wire format. Nil errors marshal to nil.
func Marshal(err error) *Error {
	if err == nil {
		return nil
	}

	var notFound FileNotFound
	switch {
	case Is(err, ErrResourceBusy):
		return &Error{Kind: KindBusy}
	case Is(err, ErrSessionInvalid):
		return &Error{Kind: KindSessionInvalid}
	case Is(err, ErrFileChanged):
		return &Error{Kind: KindFileChanged}
	case As(err, &notFound):
		return &Error{Kind: KindNotFound, Path: notFound.Path}
	case Is(err, ErrInvalidArgument):
		return &Error{Kind: KindInvalidArgument, Message: err.Error()}
	}
	return &Error{Kind: KindUnknown, Message: err.Error()}
}

// Unmarshal converts the result of an RPC into a Go error. `grpcErr` is the
// error returned by the transport, and `wireErr` is the error embedded in
// the response, if any. Transport errors take precedence and are reported
// as RemoteFailures.
func Unmarshal(grpcErr error, wireErr *Error) error {
	if grpcErr != nil {
		return RemoteFailure{Err: grpcErr}
	}

	if wireErr == nil {
		return nil
	}

	switch wireErr.Kind {
	case KindBusy:
		return ErrResourceBusy
	case KindSessionInvalid:
		return ErrSessionInvalid
	case KindFileChanged:
		return ErrFileChanged
	case KindNotFound:
		return FileNotFound{Path: wireErr.Path}
	case KindInvalidArgument:
		return WithContext(ErrInvalidArgument, wireErr.Message)
	}
	return New(wireErr.Message)
}
