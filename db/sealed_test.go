package db_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
	"gorm.io/gorm/logger"
)

// TestDBSealedRecordCRUD verifies the behavior of `Database.UpsertSealedRecord`,
// `Database.GetSealedRecord`, `Database.GetSealedRecordsForOwner`,
// `Database.DeleteSealedRecord`, and `Database.DeleteOwnerRecords`.
func TestDBSealedRecordCRUD(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/valise_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	// Create a new DB connection
	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	// -------------------------------------------------------------------------
	// 0. Record an encryption key for the sealed rows to reference
	var encKey models.EncryptionKey
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		k, err := dbClient.RecordEncryptionKey(ctx, []byte(uuid.NewString()))
		if err != nil {
			return err
		}
		encKey = k
		return nil
	})
	assert.Nil(err)

	owner1 := uuid.NewString()
	owner2 := uuid.NewString()

	newEnvelope := func(ownerID string, recordType models.RecordTypeENUMType) models.SealedRecord {
		return models.SealedRecord{
			ID:         uuid.NewString(),
			OwnerID:    ownerID,
			RecordType: recordType,
			EncKeyID:   encKey.ID,
			EncPayload: []byte(uuid.NewString()),
			EncNonce:   []byte(uuid.NewString()),
		}
	}

	// -------------------------------------------------------------------------
	// 1. Store a passport envelope for owner 1
	envelope1 := newEnvelope(owner1, models.RecordTypePassport)
	var stored1 models.SealedRecord
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		s, err := dbClient.UpsertSealedRecord(ctx, envelope1)
		if err != nil {
			return err
		}
		stored1 = s
		return nil
	})
	assert.Nil(err)
	assert.Equal(envelope1.ID, stored1.ID)

	// 2. Get it back and verify content
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		read, err := dbClient.GetSealedRecord(ctx, owner1, models.RecordTypePassport)
		if err != nil {
			return err
		}
		assert.NotNil(read)
		assert.Equal(envelope1.EncPayload, read.EncPayload)
		assert.Equal(envelope1.EncNonce, read.EncNonce)
		return nil
	})
	assert.Nil(err)

	// 3. Fetching an absent record type returns nil, not an error
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		read, err := dbClient.GetSealedRecord(ctx, owner1, models.RecordTypeFundingProof)
		if err != nil {
			return err
		}
		assert.Nil(read)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 4. Replace the passport envelope. The row keeps its original identity.
	envelope2 := newEnvelope(owner1, models.RecordTypePassport)
	var stored2 models.SealedRecord
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		s, err := dbClient.UpsertSealedRecord(ctx, envelope2)
		if err != nil {
			return err
		}
		stored2 = s
		return nil
	})
	assert.Nil(err)
	assert.Equal(stored1.ID, stored2.ID)
	assert.Equal(envelope2.EncPayload, stored2.EncPayload)

	// -------------------------------------------------------------------------
	// 5. Store a personal info envelope for owner 1 and one for owner 2
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		if _, err := dbClient.UpsertSealedRecord(
			ctx, newEnvelope(owner1, models.RecordTypePersonalInfo),
		); err != nil {
			return err
		}
		_, err := dbClient.UpsertSealedRecord(ctx, newEnvelope(owner2, models.RecordTypePassport))
		return err
	})
	assert.Nil(err)

	// 6. Fetch all records of owner 1. Absent types map to nil.
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		all, err := dbClient.GetSealedRecordsForOwner(ctx, owner1)
		if err != nil {
			return err
		}
		assert.Len(all, 3)
		assert.NotNil(all[models.RecordTypePassport])
		assert.NotNil(all[models.RecordTypePersonalInfo])
		assert.Nil(all[models.RecordTypeFundingProof])
		// Owner 1 must see its own passport, not owner 2's
		assert.Equal(envelope2.EncPayload, all[models.RecordTypePassport].EncPayload)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 7. Delete owner 1's passport. Deleting it again is a NOOP.
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteSealedRecord(ctx, owner1, models.RecordTypePassport)
	})
	assert.Nil(err)
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteSealedRecord(ctx, owner1, models.RecordTypePassport)
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		read, err := dbClient.GetSealedRecord(ctx, owner1, models.RecordTypePassport)
		if err != nil {
			return err
		}
		assert.Nil(read)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 8. Wipe owner 1. Owner 2's records survive.
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		return dbClient.DeleteOwnerRecords(ctx, owner1)
	})
	assert.Nil(err)
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		all, err := dbClient.GetSealedRecordsForOwner(ctx, owner1)
		if err != nil {
			return err
		}
		for _, envelope := range all {
			assert.Nil(envelope)
		}
		read, err := dbClient.GetSealedRecord(ctx, owner2, models.RecordTypePassport)
		if err != nil {
			return err
		}
		assert.NotNil(read)
		return nil
	})
	assert.Nil(err)

	// 9. The wipe left an audit trail whose metadata names the wiped owner
	validate := validator.New()
	assert.Nil(models.RegisterWithValidator(validate))
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListSystemEvents(ctx, db.SystemEventQueryFilter{
			EventTypes: []models.SystemEventTypeENUMType{models.SystemEventTypeOwnerDataWiped},
		})
		if err != nil {
			return err
		}
		assert.Len(events, 1)
		parsed, err := events[0].ParseMetadata(validate)
		if err != nil {
			return err
		}
		assert.Equal(models.SystemEventOwnerRelated{OwnerID: owner1}, parsed)
		return nil
	})
	assert.Nil(err)
}

// TestDBMigrationMarkers verifies the behavior of `Database.NeedsMigration`,
// `Database.MarkMigrationComplete`, and `Database.GetMigrationStatus`.
func TestDBMigrationMarkers(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Create a unique temporary DB file for this test
	testDB := fmt.Sprintf("/tmp/valise_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	// Create a new DB connection
	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	// Create database tables
	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	owner := uuid.NewString()

	// -------------------------------------------------------------------------
	// 1. A fresh owner needs migration
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		needed, err := dbClient.NeedsMigration(ctx, owner)
		if err != nil {
			return err
		}
		assert.True(needed)
		status, err := dbClient.GetMigrationStatus(ctx, owner)
		if err != nil {
			return err
		}
		assert.Nil(status)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 2. Mark migration complete
	var marker models.MigrationMarker
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		m, err := dbClient.MarkMigrationComplete(
			ctx,
			owner,
			models.MigrationSourceLegacyKV,
			[]models.RecordTypeENUMType{models.RecordTypePassport},
			[]string{"PERSONAL_INFO: parse failed"},
		)
		if err != nil {
			return err
		}
		marker = m
		return nil
	})
	assert.Nil(err)
	assert.Equal(owner, marker.OwnerID)
	assert.Equal(models.MigrationSourceLegacyKV, marker.Source)

	// 3. The owner no longer needs migration
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		needed, err := dbClient.NeedsMigration(ctx, owner)
		if err != nil {
			return err
		}
		assert.False(needed)
		status, err := dbClient.GetMigrationStatus(ctx, owner)
		if err != nil {
			return err
		}
		assert.NotNil(status)
		assert.Equal(marker.MigratedAt.Unix(), status.MigratedAt.Unix())
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 4. Marking again is a NOOP returning the original marker
	err = uut.UseDatabaseInTransaction(utCtx, func(ctx context.Context, dbClient db.Database) error {
		m, err := dbClient.MarkMigrationComplete(
			ctx, owner, models.MigrationSourceLegacyKV, nil, nil,
		)
		if err != nil {
			return err
		}
		assert.Equal(marker.MigratedAt.Unix(), m.MigratedAt.Unix())
		return nil
	})
	assert.Nil(err)

	// 5. Only one migration audit event exists
	err = uut.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListSystemEvents(ctx, db.SystemEventQueryFilter{
			EventTypes: []models.SystemEventTypeENUMType{models.SystemEventTypeMigrationCompleted},
		})
		if err != nil {
			return err
		}
		assert.Len(events, 1)
		return nil
	})
	assert.Nil(err)
}
