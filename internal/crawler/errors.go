package crawler

import "errors"

// Error kinds shared by every subsystem. Callers wrap them with fmt.Errorf
// and test with errors.Is.
var (
	// ErrNetwork marks transport failures and timeouts. The engine retries these.
	ErrNetwork = errors.New("network error")
	// ErrProtocol marks responses that are not JSON or have an unexpected shape.
	ErrProtocol = errors.New("protocol error")
	// ErrNotFound marks an absent entity: empty detail, unknown session or project.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks an invalid caller request.
	ErrValidation = errors.New("validation error")
	// ErrExtraction marks a document whose content could not be mapped to fields.
	ErrExtraction = errors.New("extraction error")
)
