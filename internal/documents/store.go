// Package documents retrieves, merges and stores the printable deliverables of issued policies.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no artifact exists for an external id.
var ErrNotFound = errors.New("documents: artifact not found")

// Store persists artifacts: a blob in storage plus an IssuedDocument row.
type Store struct {
	db    *gorm.DB
	blobs storage.Storage
	now   func() time.Time
}

// NewStore returns an artifact store.
func NewStore(conn *gorm.DB, blobs storage.Storage) *Store {
	return &Store{db: conn, blobs: blobs, now: time.Now}
}

// Find loads the artifact for externalID.
func (s *Store) Find(ctx context.Context, externalID string) (*models.IssuedDocument, error) {
	var doc models.IssuedDocument
	errFind := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&doc).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("documents: find %s: %w", externalID, errFind)
	}
	return &doc, nil
}

// SaveArtifact writes data and records it under externalID unless a record already exists.
// When another writer wins the insert, its record is returned and this blob is discarded.
func (s *Store) SaveArtifact(ctx context.Context, externalID string, docType models.DocumentType, filename, contentType string, data []byte, meta json.RawMessage) (*models.IssuedDocument, error) {
	doc, _, errSave := s.save(ctx, externalID, docType, filename, contentType, data, meta)
	return doc, errSave
}

// save is SaveArtifact that also reports whether this call created the record.
func (s *Store) save(ctx context.Context, externalID string, docType models.DocumentType, filename, contentType string, data []byte, meta json.RawMessage) (*models.IssuedDocument, bool, error) {
	existing, errFind := s.Find(ctx, externalID)
	if errFind == nil {
		return existing, false, nil
	}
	if !errors.Is(errFind, ErrNotFound) {
		return nil, false, errFind
	}

	now := s.now()
	key := storage.DatedKey(now, fmt.Sprintf("%d_%s", now.UnixNano(), path.Base(filename)))
	if errPut := s.blobs.Put(ctx, key, data, contentType); errPut != nil {
		return nil, false, errPut
	}

	doc := &models.IssuedDocument{
		ExternalID:  externalID,
		Name:        path.Base(filename),
		Type:        docType,
		StoragePath: key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}
	if len(meta) > 0 {
		doc.Data = datatypes.JSON(meta)
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(doc)
	if res.Error != nil {
		s.discard(key)
		return nil, false, fmt.Errorf("documents: record %s: %w", externalID, res.Error)
	}
	if res.RowsAffected == 0 {
		s.discard(key)
		winner, errWinner := s.Find(ctx, externalID)
		return winner, false, errWinner
	}
	return doc, true, nil
}

// Open reads the artifact bytes.
func (s *Store) Open(ctx context.Context, doc *models.IssuedDocument) ([]byte, error) {
	if doc == nil {
		return nil, ErrNotFound
	}
	return s.blobs.Get(ctx, doc.StoragePath)
}

// Delete removes the record, then its blob.
func (s *Store) Delete(ctx context.Context, externalID string) error {
	doc, errFind := s.Find(ctx, externalID)
	if errFind != nil {
		return errFind
	}
	if errDelete := s.db.WithContext(ctx).Delete(&models.IssuedDocument{}, doc.ID).Error; errDelete != nil {
		return fmt.Errorf("documents: delete %s: %w", externalID, errDelete)
	}
	if errBlob := s.blobs.Delete(ctx, doc.StoragePath); errBlob != nil {
		log.WithError(errBlob).Warnf("documents: blob %s left behind", doc.StoragePath)
	}
	return nil
}

func (s *Store) discard(key string) {
	if errDelete := s.blobs.Delete(context.Background(), key); errDelete != nil {
		log.WithError(errDelete).Warnf("documents: remove orphan blob %s failed", key)
	}
}
