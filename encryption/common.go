// Package encryption - record payload sealing engine
package encryption

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
)

// SealedPayload an AEAD-sealed record payload
type SealedPayload struct {
	// KeyID the symmetric encryption key which sealed this payload
	KeyID string
	// CipherText the sealed payload
	CipherText []byte
	// Nonce the encryption nonce used
	Nonce []byte
}

/*
Engine the system's sealing engine. It is solely responsible for all cryptographic
operations in the system.

Aside from performing the cryptographic computation, it also provides the wrapper
interface around the encryption related APIs in the persistence layer. (i.e. the rest
of the system must not directly interact with the encryption key APIs of the persistence
layer.)
*/
type Engine interface {
	/*
		Seal encrypt a record payload under the current working key

			The working key is created on first use and reused afterwards.

			@param ctx context.Context - execution context
			@param plainText []byte - the payload to seal
			@param activeDBClient Database - existing database transaction
			@return the sealed payload
	*/
	Seal(ctx context.Context, plainText []byte, activeDBClient db.Database) (SealedPayload, error)

	/*
		Unseal decrypt a sealed record payload

			@param ctx context.Context - execution context
			@param payload SealedPayload - the sealed payload
			@param activeDBClient Database - existing database transaction
			@return the decrypted payload
	*/
	Unseal(ctx context.Context, payload SealedPayload, activeDBClient db.Database) ([]byte, error)

	/*
		WorkingKey fetch the current working encryption key, creating one when
		none is active yet

			@param ctx context.Context - execution context
			@param activeDBClient Database - existing database transaction
			@return the working key entry
	*/
	WorkingKey(ctx context.Context, activeDBClient db.Database) (models.EncryptionKey, error)
}

// sealingEngine implements Engine
type sealingEngine struct {
	goutils.Component

	persistence db.Client
	validator   *validator.Validate

	crypto cgoCrypto.Engine

	rsaKey    *rsa.PrivateKey
	rsaPubKey *rsa.PublicKey

	keyCacheLock *sync.RWMutex
	encKeys      map[string]encKeyCacheEntry

	workingKeyLock *sync.Mutex
	workingKeyID   string
}

// encKeyCacheEntry system encryption key cache entry
type encKeyCacheEntry struct {
	models.EncryptionKey
	// plainTextKey the decrypted symmetric encryption key
	plainTextKey []byte
}

// EngineParams sealing engine init parameters
//
// The primary RSA key pair is used to encrypt and decrypt symmetric encryption keys
type EngineParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"-"`
	// PrimaryRSACertFile file path to the primary RSA certificate PEM
	PrimaryRSACertFile string `validate:"required,file"`
	// PrimaryRSAKeyFile file path to the primary RSA certificate private key PEM
	PrimaryRSAKeyFile string `validate:"required,file"`
}

/*
NewEngine define new sealing engine

	@param ctx context.Context - execution context
	@param params EngineParams - engine parameters
	@returns engine instance
*/
func NewEngine(ctx context.Context, params EngineParams) (Engine, error) {
	// Prepare core crypto engine
	engine, err := cgoCrypto.NewEngine(log.Fields{
		"package": "cgoutils", "module": "crypto", "component": "crypto-engine",
	})

	if err != nil {
		return nil, fmt.Errorf("failed to prepare core cryptography [%w]", err)
	}

	logTags := log.Fields{"package": "valise", "module": "encryption", "component": "sealing-engine"}

	instance := &sealingEngine{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence:    params.Persistence,
		validator:      validator.New(),
		crypto:         engine,
		keyCacheLock:   &sync.RWMutex{},
		encKeys:        make(map[string]encKeyCacheEntry),
		workingKeyLock: &sync.Mutex{},
	}
	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	// Load the primary RSA certificate and private key
	if err := instance.validator.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid engine init parameters [%w]", err)
	}
	if err := instance.loadRSAKeyPair(
		ctx, params.PrimaryRSACertFile, params.PrimaryRSAKeyFile,
	); err != nil {
		return nil, fmt.Errorf("failed to load primary RSA key pair [%w]", err)
	}

	return instance, nil
}
