package targeting

import "github.com/rotisserie/eris"

// Sentinel errors returned by Select. Match with eris.Is.
var (
	// ErrNotFound means the referenced event does not exist.
	ErrNotFound = eris.New("targeting: event not found")
	// ErrIncompleteData means the event lacks a latitude or longitude.
	ErrIncompleteData = eris.New("targeting: event missing coordinates")
	// ErrInvalidArgument means the selection criteria are malformed.
	ErrInvalidArgument = eris.New("targeting: invalid criteria")
)
