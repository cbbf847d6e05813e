package audio

import "errors"

// ErrUnsupportedFormat is returned by Validate and NegotiatePath when an
// encoding/rate/channel combination is outside the supported set. It is
// surfaced at session setup, never mid-stream.
var ErrUnsupportedFormat = errors.New("unsupported audio format")
