// Package failure classifies errors that cross component boundaries so the HTTP
// layer can choose a status code without inspecting library errors.
//
// Bad input is a 400 and every other failure a 500, except Acquisition, which
// answers 502 Bad Gateway: the fault is upstream, not in this process.
package failure

import (
	"errors"
	"net/http"
)

// Kind is the category of a failure.
type Kind int

const (
	// Unknown is any error that was never classified.
	Unknown Kind = iota
	// InvalidInput: the identifier or URL supplied by the client is malformed.
	InvalidInput
	// NoAudioFormat: the upstream video exists but exposes no audio-only stream.
	NoAudioFormat
	// IO: reading or writing the cache directory failed.
	IO
	// Acquisition: the upstream extraction or download failed.
	Acquisition
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NoAudioFormat:
		return "no_audio_format"
	case IO:
		return "io"
	case Acquisition:
		return "acquisition"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status the error boundary answers with for k.
// NoAudioFormat stays a server error: the client sent a well-formed ID and
// cannot do anything different on retry.
func (k Kind) Status() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case Acquisition:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error tags an underlying error with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoAudioFormat is the underlying error for NoAudioFormat failures.
var ErrNoAudioFormat = errors.New("no audio formats found")

// ErrInvalidID is the underlying error for InvalidInput failures.
var ErrInvalidID = errors.New("invalid video URL or ID")

func newErr(k Kind, op string, err error) error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Invalid returns an InvalidInput failure.
func Invalid(op string, err error) error {
	if err == nil {
		err = ErrInvalidID
	}
	return newErr(InvalidInput, op, err)
}

// NoAudio returns a NoAudioFormat failure for the given video ID.
func NoAudio(id string) error {
	return newErr(NoAudioFormat, "fetch "+id, ErrNoAudioFormat)
}

// IOError returns an IO failure.
func IOError(op string, err error) error { return newErr(IO, op, err) }

// Upstream returns an Acquisition failure. An error that is already classified
// keeps its original kind.
func Upstream(op string, err error) error {
	if k := KindOf(err); k != Unknown {
		return err
	}
	return newErr(Acquisition, op, err)
}

// KindOf returns the Kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is classified as k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
