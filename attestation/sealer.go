// Package attestation - attestation-backed payload sealing
package attestation

import "context"

// Sealer an attestation-backed encryption service. When available, it replaces the
// process-wide AEAD as the outer encryption layer of stored credentials.
type Sealer interface {
	/*
		Encrypt seal plain text

			@param ctx context.Context - execution context
			@param plainText []byte - the plain text
			@returns the sealed payload
	*/
	Encrypt(ctx context.Context, plainText []byte) ([]byte, error)

	/*
		Decrypt unseal a payload

			@param ctx context.Context - execution context
			@param sealed []byte - the sealed payload
			@returns the plain text
	*/
	Decrypt(ctx context.Context, sealed []byte) ([]byte, error)

	/*
		IsAvailable whether the service can currently seal and unseal

			@param ctx context.Context - execution context
			@returns availability
	*/
	IsAvailable(ctx context.Context) bool
}
