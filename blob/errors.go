package blob

import "errors"

var (
	errMustProvideTwo = errors.New("blob: must provide at least one firmware handler plus the hash handler")
	errNoTransports   = errors.New("blob: must provide at least one transport")
	errNoHashBlob     = errors.New("blob: configuration is missing the hash blob handler")
)
