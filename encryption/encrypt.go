package encryption

import (
	"context"
	"fmt"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
)

// setupAEAD prepare AEAD
func (e *cryptoEngine) setupAEAD(
	ctx context.Context, key []byte, nonce []byte,
) (cgoCrypto.AEAD, error) {
	aead, err := e.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	if len(key) != aead.ExpectedKeyLen() {
		return nil, fmt.Errorf("AEAD key length %d =/= %d", len(key), aead.ExpectedKeyLen())
	}

	// Set the AEAD encryption key
	keyBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedKeyLen())
	if err != nil {
		return nil, fmt.Errorf("failed to init AEAD key buffer [%w]", err)
	}
	keyBufferCore, err := keyBuffer.GetSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to access AEAD key buffer core [%w]", err)
	}
	copy(keyBufferCore, key)
	if err := aead.SetKey(keyBuffer); err != nil {
		return nil, fmt.Errorf("failed to install AEAD key [%w]", err)
	}

	// Set the AEAD nonce
	if len(nonce) > 0 {
		if len(nonce) != aead.ExpectedNonceLen() {
			return nil, fmt.Errorf(
				"AEAD nonce length %d =/= %d", len(nonce), aead.ExpectedNonceLen(),
			)
		}
		nonceBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce buffer [%w]", err)
		}
		nonceBufferCore, err := nonceBuffer.GetSlice()
		if err != nil {
			return nil, fmt.Errorf("failed to access AEAD nonce buffer core [%w]", err)
		}
		copy(nonceBufferCore, nonce)
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
	} else {
		// Generate random nonce
		nonceBuffer, err := e.crypto.GetRandomBuf(ctx, aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce [%w]", err)
		}
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
	}

	return aead, nil
}

/*
Encrypt encrypt plain text with a caller provided AEAD key

	@param ctx context.Context - execution context
	@param key []byte - the AEAD key
	@param plainText []byte - the plain text to encrypt
	@returns the cipher text and nonce
*/
func (e *cryptoEngine) Encrypt(
	ctx context.Context, key []byte, plainText []byte,
) (EncryptedData, error) {
	aead, err := e.setupAEAD(ctx, key, nil)
	if err != nil {
		return EncryptedData{}, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	// Grab the nonce
	nonce, err := aead.Nonce().GetSlice()
	if err != nil {
		return EncryptedData{}, fmt.Errorf("failed to get nonce [%w]", err)
	}
	nonceCopy := make([]byte, aead.ExpectedNonceLen())
	if copied := copy(nonceCopy, nonce); copied != aead.ExpectedNonceLen() {
		return EncryptedData{}, fmt.Errorf(
			"failed to copy nonce %d =/= %d", copied, aead.ExpectedNonceLen(),
		)
	}

	// Encrypt the plain text
	cipherText := make([]byte, aead.ExpectedCipherLen(int64(len(plainText))))
	if err := aead.Seal(ctx, 0, plainText, nil, cipherText); err != nil {
		return EncryptedData{}, fmt.Errorf("failed to encrypt plain text [%w]", err)
	}

	return EncryptedData{CipherText: cipherText, Nonce: nonceCopy}, nil
}

/*
Decrypt decrypt cipher text with a caller provided AEAD key

	@param ctx context.Context - execution context
	@param key []byte - the AEAD key
	@param encrypted EncryptedData - the cipher text to decrypt
	@returns the plain text
*/
func (e *cryptoEngine) Decrypt(
	ctx context.Context, key []byte, encrypted EncryptedData,
) ([]byte, error) {
	if len(encrypted.Nonce) == 0 {
		return nil, fmt.Errorf("cipher text has no nonce")
	}

	aead, err := e.setupAEAD(ctx, key, encrypted.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	plainTextLen := aead.ExpectedPlainTextLen(int64(len(encrypted.CipherText)))
	if plainTextLen < 0 {
		return nil, fmt.Errorf("cipher text is truncated")
	}

	// Decrypt the cipher text
	plainText := make([]byte, plainTextLen)
	if err := aead.Unseal(ctx, 0, encrypted.CipherText, nil, plainText); err != nil {
		return nil, fmt.Errorf("failed to decrypt cipher text [%w]", err)
	}

	return plainText, nil
}

/*
EncryptSystem encrypt plain text with the process-wide AEAD key

	@param ctx context.Context - execution context
	@param plainText []byte - the plain text to encrypt
	@returns the cipher text and nonce
*/
func (e *cryptoEngine) EncryptSystem(
	ctx context.Context, plainText []byte,
) (EncryptedData, error) {
	return e.Encrypt(ctx, e.systemAEADKey, plainText)
}

/*
DecryptSystem decrypt cipher text with the process-wide AEAD key

	@param ctx context.Context - execution context
	@param encrypted EncryptedData - the cipher text to decrypt
	@returns the plain text
*/
func (e *cryptoEngine) DecryptSystem(
	ctx context.Context, encrypted EncryptedData,
) ([]byte, error) {
	return e.Decrypt(ctx, e.systemAEADKey, encrypted)
}
