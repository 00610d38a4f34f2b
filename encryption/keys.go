package encryption

import (
	"context"
	"fmt"

	"github.com/alwitt/cgoutils/crypto"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
)

// newEncryptionKey define a new symmetric encryption key and persist it
func (e *sealingEngine) newEncryptionKey(
	ctx context.Context, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	// RNG for generating the key
	rng := e.crypto.GetRNGReader()

	aead, err := e.crypto.GetAEAD(ctx, crypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return models.EncryptionKey{}, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	keyLen := aead.ExpectedKeyLen()

	newKey := make([]byte, keyLen)
	if n, err := rng.Read(newKey); err != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to read %d bytes from RNG [%w]", keyLen, err)
	} else if n != keyLen {
		return models.EncryptionKey{}, fmt.Errorf("did not get %d bytes from RNG, only %d", keyLen, n)
	}

	// Encrypt the key for storage
	newKeyEnc, err := e.crypto.RSAEncrypt(ctx, newKey, e.rsaPubKey, nil)
	if err != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to encrypt symmetric enc key [%w]", err)
	}

	// Record the key
	var keyEntry models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			keyEntry, err = dbClient.RecordEncryptionKey(dbCtx, newKeyEnc)
			return err
		},
	); dbErr != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to record new encryption key [%w]", dbErr)
	}

	// Cache the key and its DB entry
	e.writeKeyToCache(keyEntry, newKey)

	return keyEntry, nil
}

/*
WorkingKey fetch the current working encryption key, creating one when none is
active yet

	@param ctx context.Context - execution context
	@param activeDBClient Database - existing database transaction
	@return the working key entry
*/
func (e *sealingEngine) WorkingKey(
	ctx context.Context, activeDBClient db.Database,
) (models.EncryptionKey, error) {
	e.workingKeyLock.Lock()
	defer e.workingKeyLock.Unlock()

	if e.workingKeyID != "" {
		keyEntry, err := e.getEncryptionKey(ctx, e.workingKeyID, activeDBClient)
		if err != nil {
			return models.EncryptionKey{}, fmt.Errorf(
				"failed to fetch working key %s [%w]", e.workingKeyID, err,
			)
		}
		return keyEntry.EncryptionKey, nil
	}

	// Pick the newest active key, or make the first key
	var activeKeys []models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			activeKeys, err = dbClient.ListEncryptionKeys(dbCtx, db.EncryptionKeyQueryFilter{
				TargetState: []models.EncryptionKeyStateENUMType{models.EncryptionKeyStateActive},
			})
			return err
		},
	); dbErr != nil {
		return models.EncryptionKey{}, fmt.Errorf("failed to list active encryption keys [%w]", dbErr)
	}

	if len(activeKeys) == 0 {
		newKey, err := e.newEncryptionKey(ctx, activeDBClient)
		if err != nil {
			return models.EncryptionKey{}, fmt.Errorf("failed to define new encryption key [%w]", err)
		}
		e.workingKeyID = newKey.ID
		return newKey, nil
	}

	e.workingKeyID = activeKeys[0].ID
	keyEntry, err := e.getEncryptionKey(ctx, e.workingKeyID, activeDBClient)
	if err != nil {
		return models.EncryptionKey{}, fmt.Errorf(
			"failed to fetch working key %s [%w]", e.workingKeyID, err,
		)
	}
	return keyEntry.EncryptionKey, nil
}

// writeKeyToCache write key into cache for use
func (e *sealingEngine) writeKeyToCache(keyEntry models.EncryptionKey, plainKey []byte) {
	e.keyCacheLock.Lock()
	defer e.keyCacheLock.Unlock()
	e.encKeys[keyEntry.ID] = encKeyCacheEntry{EncryptionKey: keyEntry, plainTextKey: plainKey}
}

// getCachedKey helper function to read a key from cache
func (e *sealingEngine) getCachedKey(keyID string) (encKeyCacheEntry, bool) {
	e.keyCacheLock.RLock()
	defer e.keyCacheLock.RUnlock()
	entry, ok := e.encKeys[keyID]
	return entry, ok
}

// cacheKey decrypt the key material and remember it for reuse
func (e *sealingEngine) cacheKey(
	ctx context.Context, keyEntry models.EncryptionKey,
) (encKeyCacheEntry, error) {
	// Only cache active keys
	if keyEntry.State != models.EncryptionKeyStateActive {
		return encKeyCacheEntry{EncryptionKey: keyEntry}, nil
	}

	// Decrypt the key
	key, err := e.crypto.RSADecrypt(ctx, keyEntry.EncKeyMaterial, e.rsaKey, nil)
	if err != nil {
		return encKeyCacheEntry{EncryptionKey: keyEntry}, fmt.Errorf(
			"failed to decrypt symmetric key %s [%w]", keyEntry.ID, err,
		)
	}

	// Cache the key and its DB entry
	e.writeKeyToCache(keyEntry, key)

	return encKeyCacheEntry{EncryptionKey: keyEntry, plainTextKey: key}, nil
}

// getEncryptionKey core function for fetching one encryption key
func (e *sealingEngine) getEncryptionKey(
	ctx context.Context, keyID string, activeDBClient db.Database,
) (encKeyCacheEntry, error) {
	// Check key has been cached already
	if plainKey, cached := e.getCachedKey(keyID); cached {
		return plainKey, nil
	}

	var keyEntry models.EncryptionKey
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, e.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			keyEntry, err = dbClient.GetEncryptionKey(dbCtx, keyID)
			return err
		},
	); dbErr != nil {
		return encKeyCacheEntry{}, fmt.Errorf("encryption key %s unknown [%w]", keyID, dbErr)
	}

	// Inactive keys are not cached
	if keyEntry.State != models.EncryptionKeyStateActive {
		return encKeyCacheEntry{EncryptionKey: keyEntry}, nil
	}

	plainKey, err := e.cacheKey(ctx, keyEntry)
	if err != nil {
		return encKeyCacheEntry{}, fmt.Errorf("unable to cache encryption key %s [%w]", keyID, err)
	}
	return plainKey, nil
}
