// ABOUTME: Error taxonomy for ceremonies and access control
// ABOUTME: The HTTP layer maps each sentinel to a status code with errors.Is

package auth

import "errors"

var (
	// ErrValidation means the client sent malformed or missing input.
	ErrValidation = errors.New("invalid request")

	// ErrChallenge means the ceremony id is unknown, spent or expired.
	ErrChallenge = errors.New("invalid or expired ceremony")

	// ErrVerification means the authenticator response failed verification.
	ErrVerification = errors.New("verification failed")

	// ErrReplay means the signature counter did not advance, which points to
	// a cloned authenticator or a replayed assertion.
	ErrReplay = errors.New("signature counter did not advance")

	// ErrUnknownCredential means the asserted credential is not registered.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrUnauthorized means the request carries no live session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal hides collaborator and storage failures from clients.
	ErrInternal = errors.New("internal error")
)
