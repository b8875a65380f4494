package auth

import "errors"

// ErrTokenInvalid covers every way a bearer token can fail validation:
// bad signature, expiry, or a missing required claim.
var ErrTokenInvalid = errors.New("auth: invalid token")

// ErrInvalidCredentials is returned by Login when the supplied username or
// password does not match the configured admin credential.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")
