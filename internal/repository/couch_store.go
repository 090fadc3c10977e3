package repository

import (
	"context"
	"errors"
	"fmt"

	"slugstate/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const docTypeRecord = "record"

// CouchStore keeps local records in a CouchDB database, for clients that
// run next to a local CouchDB instead of a state directory.
type CouchStore struct {
	client *kivik.Client
	dbName string
}

func NewCouchStore(client *kivik.Client, dbName string) *CouchStore {
	return &CouchStore{
		client: client,
		dbName: dbName,
	}
}

type recordDoc struct {
	ID     string             `json:"_id"`
	Rev    string             `json:"_rev,omitempty"`
	Type   string             `json:"type"`
	Record *domain.SyncRecord `json:"record"`
}

func recordDocID(key string) string {
	return fmt.Sprintf("record:%s", key)
}

func (s *CouchStore) Get(ctx context.Context, key string) (*domain.SyncRecord, error) {
	db := s.client.DB(s.dbName)

	var doc recordDoc
	if err := db.Get(ctx, recordDocID(key)).ScanDoc(&doc); err != nil {
		return nil, translateKivikError(err)
	}
	if doc.Record == nil {
		return nil, ErrNotFound
	}

	return doc.Record, nil
}

func (s *CouchStore) Put(ctx context.Context, record *domain.SyncRecord) error {
	db := s.client.DB(s.dbName)

	doc := &recordDoc{
		ID:     recordDocID(record.Key),
		Type:   docTypeRecord,
		Record: record,
	}

	rev, err := db.GetRev(ctx, doc.ID)
	if err != nil && !errors.Is(translateKivikError(err), ErrNotFound) {
		return fmt.Errorf("failed to read record revision: %w", err)
	}
	doc.Rev = rev

	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to store record: %w", translateKivikError(err))
	}

	return nil
}

func (s *CouchStore) Delete(ctx context.Context, key string) error {
	db := s.client.DB(s.dbName)

	docID := recordDocID(key)
	rev, err := db.GetRev(ctx, docID)
	if err != nil {
		if errors.Is(translateKivikError(err), ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read record revision: %w", err)
	}

	if _, err := db.Delete(ctx, docID, rev); err != nil {
		return fmt.Errorf("failed to delete record: %w", translateKivikError(err))
	}

	return nil
}

func (s *CouchStore) List(ctx context.Context) ([]*domain.SyncRecord, error) {
	db := s.client.DB(s.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type": docTypeRecord,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*domain.SyncRecord
	for rows.Next() {
		var doc recordDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if doc.Record != nil {
			records = append(records, doc.Record)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return records, nil
}
