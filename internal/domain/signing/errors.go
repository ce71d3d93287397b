package signing

import "errors"

var (
	// ErrInvalidAddress is returned when a string is not a 20-byte hex address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrAuthRejectedByUser is returned when the wallet owner declines to sign.
	ErrAuthRejectedByUser = errors.New("signature rejected by user")

	// ErrWalletUnavailable is returned when no wallet signer can be reached.
	ErrWalletUnavailable = errors.New("wallet unavailable")

	// ErrMalformedChallenge is returned when the challenge cannot be turned
	// into typed data.
	ErrMalformedChallenge = errors.New("malformed challenge")

	// ErrNoSessionKey is returned when a request must be signed before a
	// session key exists.
	ErrNoSessionKey = errors.New("no session key")
)
