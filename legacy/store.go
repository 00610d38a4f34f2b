// Package legacy - read access to the legacy key-value store
package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Store the legacy key-value store predating the sealed database
//
// It only serves as the one-time migration source and the comparand for
// conflict detection, so the surface is read-only.
type Store interface {
	/*
		Get fetch the value stored under one key

			@param ctx context.Context - execution context
			@param key string - the legacy key
			@returns the stored value, or nil when the key is absent
	*/
	Get(ctx context.Context, key string) ([]byte, error)

	/*
		Keys list all keys present in the store

			@param ctx context.Context - execution context
			@returns the key set
	*/
	Keys(ctx context.Context) ([]string, error)
}

// fileStore implements Store against a single JSON document on disk
//
// The document is a flat string-to-string map, matching how the legacy
// key-value store serialized its contents.
type fileStore struct {
	goutils.Component

	lock    sync.RWMutex
	entries map[string]string
}

/*
NewFileStore define a legacy store reader backed by a JSON document

	A missing file is a valid empty store.

	@param filePath string - path to the legacy store JSON document
	@returns store instance
*/
func NewFileStore(filePath string) (Store, error) {
	logTags := log.Fields{"package": "valise", "module": "legacy", "component": "file-store"}

	instance := &fileStore{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		entries: map[string]string{},
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithFields(logTags).WithField("file", filePath).
				Debug("No legacy store document found")
			return instance, nil
		}
		return nil, fmt.Errorf("failed to read legacy store document %s [%w]", filePath, err)
	}

	if err := json.Unmarshal(content, &instance.entries); err != nil {
		return nil, fmt.Errorf("failed to parse legacy store document %s [%w]", filePath, err)
	}

	return instance, nil
}

/*
Get fetch the value stored under one key

	@param ctx context.Context - execution context
	@param key string - the legacy key
	@returns the stored value, or nil when the key is absent
*/
func (s *fileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return []byte(value), nil
}

/*
Keys list all keys present in the store

	@param ctx context.Context - execution context
	@returns the key set
*/
func (s *fileStore) Keys(_ context.Context) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys, nil
}
