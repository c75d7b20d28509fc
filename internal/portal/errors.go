package portal

import (
	"errors"
	"fmt"
)

var (
	ErrTokenNotFound    = errors.New("csrf token not found on login page")
	ErrLoginFailed      = errors.New("login failed")
	ErrUnexpectedStatus = errors.New("unexpected response status")
	ErrInvalidJSON      = errors.New("response is not valid json")
)

// ErrDataStatus is a non-200 from the personnel data endpoint, i.e. after the
// login was accepted. It matches ErrUnexpectedStatus as well.
var ErrDataStatus = fmt.Errorf("%w from personnel data", ErrUnexpectedStatus)
