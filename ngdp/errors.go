package ngdp

import (
	"fmt"
)

// Define the NGDP error types surfaced by the client. Error names
// start in 'Err'; kinds that are a subset of another kind say so via
// Is() so callers can match on the broader category.

// ErrServer - a CDN or patch-host request returned a non-success
// status. Carries the status code and the URL that was queried.
type ErrServer struct {
	StatusCode int
	URL        string
}

func (e ErrServer) Error() string {
	return fmt.Sprintf("server error: got HTTP %d when querying %s", e.StatusCode, e.URL)
}

// ErrServerConfiguration - the server's CDN manifest left no viable
// host to query content from.
type ErrServerConfiguration struct {
	Msg string
}

func (e ErrServerConfiguration) Error() string {
	return fmt.Sprintf("server configuration error: %s", e.Msg)
}

// ErrServerConfiguration is a subset of ErrServer
func (e ErrServerConfiguration) Is(target error) bool {
	return target == ErrServer{} || target == ErrServerConfiguration{}
}

// ErrNotFound - a cache entry is absent and the remote fetch did not
// produce it either.
type ErrNotFound struct {
	Namespace string
	Name      string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s/%s", e.Namespace, e.Name)
}

// ErrParse - malformed configuration or manifest text.
type ErrParse struct {
	Msg string
}

func (e ErrParse) Error() string {
	return fmt.Sprintf("parse error: %s", e.Msg)
}
