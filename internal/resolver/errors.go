package resolver

import "errors"

// Sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrMalformedRange = errors.New("malformed range")
)

// errorName identifies this stage in NotFoundError values.
const errorName = "fruitstatic"

// NotFoundError is handed to the host when a path does not resolve to an
// indexed regular file.
type NotFoundError struct {
	Name    string
	Message string
	Status  int
}

func (e *NotFoundError) Error() string {
	return e.Name + ": " + e.Message
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StreamError is an I/O failure while producing body bytes.
type StreamError struct {
	Key string
	Err error
}

func (e *StreamError) Error() string {
	return "stream " + e.Key + ": " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
