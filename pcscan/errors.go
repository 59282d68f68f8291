package pcscan

import "errors"

// ErrBadOptions indicates invalid scanner options.
var ErrBadOptions = errors.New("pcscan: bad options")
