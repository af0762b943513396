package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status is the discriminator of an [Envelope].
type Status string

const (
	// StatusOK marks a successful envelope carrying data.
	StatusOK Status = "ok"
	// StatusError marks a failed envelope carrying an error reason.
	StatusError Status = "error"
)

var (
	// ErrMalformed is returned when a body is not a well-formed envelope.
	ErrMalformed = errors.New("malformed envelope")
)

// Envelope is the wire wrapper around every API response body.
type Envelope struct {
	Status Status          `json:"status"`
	Code   int             `json:"code"`
	Time   Timestamp       `json:"time"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// OK reports whether the envelope is a success envelope.
func (e Envelope) OK() bool {
	return e.Status == StatusOK
}

// Decode reads a single envelope from r. Unknown status values and error
// envelopes without a reason are tolerated; an empty or non-JSON body is not.
func Decode(r io.Reader) (Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Status {
	case StatusOK, StatusError:
	default:
		return env, fmt.Errorf("%w: unknown status %q", ErrMalformed, env.Status)
	}
	return env, nil
}

// NewOK builds a success envelope for data.
func NewOK(code int, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Status: StatusOK,
		Code:   code,
		Time:   At(time.Now().UTC()),
		Data:   raw,
	}, nil
}

// NewError builds an error envelope. An empty message falls back to the HTTP
// status text for code.
func NewError(code int, message string) Envelope {
	if message == "" {
		message = http.StatusText(code)
	}
	return Envelope{
		Status: StatusError,
		Code:   code,
		Time:   At(time.Now().UTC()),
		Error:  message,
	}
}

// WriteOK writes a success envelope with the given HTTP status.
func WriteOK(w http.ResponseWriter, code int, data any) {
	env, err := NewOK(code, data)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "response encoding failed")
		return
	}
	write(w, env)
}

// WriteError writes an error envelope with the given HTTP status.
func WriteError(w http.ResponseWriter, code int, message string) {
	write(w, NewError(code, message))
}

func write(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.Code)
	_ = json.NewEncoder(w).Encode(env)
}
