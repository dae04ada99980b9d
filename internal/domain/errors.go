// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested agent does not exist, either locally or
// at any reachable discovery endpoint.
var ErrNotFound = errors.New("not found")
