package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	"ekyc/pkg/platform/sentinel"
)

const (
	keyPrefix      = "ekyc:verification:"
	recordIndexKey = keyPrefix + "records"

	// createAttempts bounds WATCH retries for get-or-create; contention on a
	// single subject key is rare.
	createAttempts = 3
)

func recordKey(recordID id.RecordID) string {
	return keyPrefix + "record:" + recordID.String()
}

func subjectIndexKey(subjectID id.SubjectID, kind models.VerificationKind) string {
	return keyPrefix + "subject:" + string(kind) + ":" + subjectID.String()
}

func documentIndexKey(number string) string {
	return keyPrefix + "document:" + number
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps each record as a JSON string with secondary index keys.
// Writes use WATCH/MULTI so index and record change together.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, subjectID id.SubjectID, kind models.VerificationKind) (*models.VerificationRecord, error) {
	return s.getByIndex(ctx, s.client, subjectIndexKey(subjectID, kind))
}

func (s *RedisStore) GetByID(ctx context.Context, recordID id.RecordID) (*models.VerificationRecord, error) {
	return s.load(ctx, s.client, recordKey(recordID))
}

func (s *RedisStore) FindByDocumentNumber(ctx context.Context, number string) (*models.VerificationRecord, error) {
	if number == "" {
		return nil, sentinel.ErrNotFound
	}
	return s.getByIndex(ctx, s.client, documentIndexKey(number))
}

// Create inserts the record unless the subject already holds one of this
// kind, in which case the stored record is returned.
func (s *RedisStore) Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error) {
	payload, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	subjectKey := subjectIndexKey(rec.SubjectID, rec.Kind)

	for range createAttempts {
		var existing *models.VerificationRecord
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			found, err := s.getByIndex(ctx, tx, subjectKey)
			if err == nil {
				existing = found
				return nil
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recordKey(rec.ID), payload, 0)
				pipe.Set(ctx, subjectKey, rec.ID.String(), 0)
				pipe.SAdd(ctx, recordIndexKey, rec.ID.String())
				return nil
			})
			return err
		}, subjectKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create verification record: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
		return rec.Clone(), nil
	}
	return nil, sentinel.ErrConflict
}

// CompareAndSwap writes rec if the stored version equals expectedVersion. A
// concurrent write to the record or the claimed document key aborts the
// transaction and reports ErrConflict.
func (s *RedisStore) CompareAndSwap(ctx context.Context, rec *models.VerificationRecord, expectedVersion int64) error {
	if rec.Version != expectedVersion+1 {
		return sentinel.ErrConflict
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	key := recordKey(rec.ID)
	watched := []string{key}
	newNumber := rec.DocumentNumber()
	if newNumber != "" {
		watched = append(watched, documentIndexKey(newNumber))
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return sentinel.ErrConflict
		}

		oldNumber := current.DocumentNumber()
		if newNumber != "" && newNumber != oldNumber {
			owner, err := tx.Get(ctx, documentIndexKey(newNumber)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("read document index: %w", err)
			}
			if err == nil && owner != rec.ID.String() {
				return sentinel.ErrAlreadyUsed
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if oldNumber != "" && oldNumber != newNumber {
				pipe.Del(ctx, documentIndexKey(oldNumber))
			}
			if newNumber != "" {
				pipe.Set(ctx, documentIndexKey(newNumber), rec.ID.String(), 0)
			}
			return nil
		})
		return err
	}, watched...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return sentinel.ErrConflict
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed), errors.Is(err, sentinel.ErrNotFound):
		return err
	default:
		return fmt.Errorf("update verification record: %w", err)
	}
}

// ListAll returns every record, most recently updated first.
func (s *RedisStore) ListAll(ctx context.Context) ([]*models.VerificationRecord, error) {
	ids, err := s.client.SMembers(ctx, recordIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list verification records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, recID := range ids {
		keys[i] = keyPrefix + "record:" + recID
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load verification records: %w", err)
	}
	out := make([]*models.VerificationRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) getByIndex(ctx context.Context, c getter, indexKey string) (*models.VerificationRecord, error) {
	raw, err := c.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", indexKey, err)
	}
	return s.load(ctx, c, keyPrefix+"record:"+raw)
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) (*models.VerificationRecord, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read verification record: %w", err)
	}
	return decodeRecord(raw)
}
