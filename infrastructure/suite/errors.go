package suite

import "errors"

var ErrUnknownSuite = errors.New("unknown suite id")
