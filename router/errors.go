package router

import "errors"

var (
	ErrAlreadyAttached = errors.New("router: session already attached")
	ErrMissingSource   = errors.New("router: route has no source")
)
