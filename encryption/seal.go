package encryption

import (
	"context"
	"fmt"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/tripforms/valise/db"
)

// setupAEAD prepare AEAD
func (e *sealingEngine) setupAEAD(
	ctx context.Context, key []byte, nonce []byte,
) (cgoCrypto.AEAD, error) {
	aead, err := e.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	// Set the AEAD encryption key
	keyBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedKeyLen())
	if err != nil {
		return nil, fmt.Errorf("failed to init AEAD key buffer [%w]", err)
	}
	keyBufferCore, err := keyBuffer.GetSlice()
	if err != nil {
		return nil, fmt.Errorf(
			"failed to access AEAD key buffer core [%w]", err,
		)
	}
	if copied := copy(keyBufferCore, key); copied != aead.ExpectedKeyLen() {
		return nil, fmt.Errorf(
			"failed to fill AEAD key buffer core %d =/= %d", copied, aead.ExpectedKeyLen(),
		)
	}
	if err := aead.SetKey(keyBuffer); err != nil {
		return nil, fmt.Errorf("failed to install AEAD key [%w]", err)
	}

	// Set the AEAD nonce
	if len(nonce) > 0 {
		// Use existing nonce
		nonceBuffer, err := e.crypto.AllocateSecureCSlice(aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce buffer [%w]", err)
		}
		nonceBufferCore, err := nonceBuffer.GetSlice()
		if err != nil {
			return nil, fmt.Errorf(
				"failed to access AEAD nonce buffer core [%w]", err,
			)
		}
		if copied := copy(nonceBufferCore, nonce); copied != aead.ExpectedNonceLen() {
			return nil, fmt.Errorf(
				"failed to fill AEAD nonce buffer core %d =/= %d", copied, aead.ExpectedNonceLen(),
			)
		}
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
Seal encrypt a record payload under the current working key

	The working key is created on first use and reused afterwards.

	@param ctx context.Context - execution context
	@param plainText []byte - the payload to seal
	@param activeDBClient Database - existing database transaction
	@return the sealed payload
*/
func (e *sealingEngine) Seal(
	ctx context.Context, plainText []byte, activeDBClient db.Database,
) (SealedPayload, error) {
	workingKey, err := e.WorkingKey(ctx, activeDBClient)
	if err != nil {
		return SealedPayload{}, fmt.Errorf("failed to prepare working encryption key [%w]", err)
	}

	keyEntry, err := e.getEncryptionKey(ctx, workingKey.ID, activeDBClient)
	if err != nil {
		return SealedPayload{}, fmt.Errorf(
			"failed to get encryption key %s from cache [%w]", workingKey.ID, err,
		)
	}

	if len(keyEntry.plainTextKey) == 0 {
		return SealedPayload{}, fmt.Errorf(
			"encryption key %s is not active or not decrypted", workingKey.ID,
		)
	}

	aead, err := e.setupAEAD(ctx, keyEntry.plainTextKey, nil)
	if err != nil {
		return SealedPayload{}, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	// Grab the nonce
	nonce, err := aead.Nonce().GetSlice()
	if err != nil {
		return SealedPayload{}, fmt.Errorf("failed to get nonce [%w]", err)
	}
	nonceCopy := make([]byte, aead.ExpectedNonceLen())
	if copied := copy(nonceCopy, nonce); copied != aead.ExpectedNonceLen() {
		return SealedPayload{}, fmt.Errorf(
			"failed to copy nonce %d =/= %d", copied, aead.ExpectedNonceLen(),
		)
	}

	// Encrypt the plain text
	cipherText := make([]byte, aead.ExpectedCipherLen(int64(len(plainText))))
	if err := aead.Seal(ctx, 0, plainText, nil, cipherText); err != nil {
		return SealedPayload{}, fmt.Errorf("failed to encrypt plain text [%w]", err)
	}

	return SealedPayload{KeyID: keyEntry.ID, CipherText: cipherText, Nonce: nonceCopy}, nil
}

/*
Unseal decrypt a sealed record payload

	@param ctx context.Context - execution context
	@param payload SealedPayload - the sealed payload
	@param activeDBClient Database - existing database transaction
	@return the decrypted payload
*/
func (e *sealingEngine) Unseal(
	ctx context.Context, payload SealedPayload, activeDBClient db.Database,
) ([]byte, error) {
	keyEntry, err := e.getEncryptionKey(ctx, payload.KeyID, activeDBClient)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to get encryption key %s from cache [%w]", payload.KeyID, err,
		)
	}

	if len(keyEntry.plainTextKey) == 0 {
		return nil, fmt.Errorf(
			"encryption key %s is not active or not decrypted", payload.KeyID,
		)
	}

	aead, err := e.setupAEAD(ctx, keyEntry.plainTextKey, payload.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	// Decrypt the cipher text
	plainText := make([]byte, aead.ExpectedPlainTextLen(int64(len(payload.CipherText))))
	if err := aead.Unseal(ctx, 0, payload.CipherText, nil, plainText); err != nil {
		return nil, fmt.Errorf("failed to decrypt cipher text [%w]", err)
	}

	return plainText, nil
}
