package location

import "errors"

var (
	ErrNotSupported     = errors.New("location not supported")
	ErrNotEnabled       = errors.New("location not enabled")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrTimeout          = errors.New("location request timed out")
	ErrUnknown          = errors.New("location unavailable")
)
