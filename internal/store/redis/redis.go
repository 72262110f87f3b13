// Package redis implements the remote record store on a Redis-compatible
// cloud database.
//
// Each save is one hash record keyed by a server-side record UUID; a
// per-session index set maps the logical session id to its record ids.
// Because the record identity is independent of the session id, a device
// that cannot see the existing record for a session creates a new one -
// duplicates are expected and collapsed later by the deduplication sweep.
//
// All failures leaving this package are classified into the store package's
// taxonomy (transient / terminal / conflict) for the retry policy.
package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kastlog/kastlog/internal/store"
)

const (
	recordPrefix  = "kastlog:rec:"
	indexPrefix   = "kastlog:idx:"
	recordsSetKey = "kastlog:records"
)

// Config holds the remote store connection settings.
type Config struct {
	// Addr is "host:port" of the record service.
	Addr string
	// Password authenticates the connection (empty for none).
	Password string
	// DB selects the logical database.
	DB int
}

// Store is the remote record store adapter.
type Store struct {
	client *redis.Client
}

// Open creates a remote store client. The connection is verified lazily;
// use Ping for an explicit reachability check.
func Open(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client}
}

// NewWithClient wraps an existing client (tests).
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports reachability of the record service.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.Classify("ping", err)
	}
	return nil
}

// Save creates or updates a record.
//
// A record without a RecordID is a fresh write and gets a new UUID. When
// the record carries a BaseModifiedAt guard, the save script compares it
// against the stored modified_at and fails with a Conflict classification
// if another device has written in between; the caller re-fetches, runs
// the resolver again, and retries.
func (s *Store) Save(ctx context.Context, rec *store.Record) (*store.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, store.NewRemoteError(store.ClassTerminal, "save", err)
	}
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}

	roundsJSON, err := rec.MarshalRounds()
	if err != nil {
		return nil, store.NewRemoteError(store.ClassTerminal, "save", err)
	}

	keys := []string{
		recordPrefix + rec.RecordID,
		indexPrefix + rec.SessionID,
		recordsSetKey,
	}
	args := []interface{}{
		formatGuard(rec.BaseModifiedAt),
		rec.RecordID,
		rec.SchemaVersion,
		rec.SessionID,
		rec.Date,
		rec.Target,
		rec.TotalKubbs,
		rec.TotalBatons,
		formatTime(rec.StartTime),
		formatOptTime(rec.EndTime),
		boolToField(rec.IsComplete),
		formatTime(rec.CreatedAt),
		formatTime(rec.ModifiedAt),
		roundsJSON,
	}

	res, err := saveRecordScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, store.Classify("save", err)
	}
	if res == saveResultConflict {
		return nil, store.NewRemoteError(store.ClassConflict, "save",
			fmt.Errorf("record %s modified since last read", rec.RecordID))
	}
	return rec, nil
}

// Query returns all records matching the filter via a full scan of the
// records set. Records that fail the schema contract are skipped.
func (s *Store) Query(ctx context.Context, filter store.QueryFilter) ([]*store.Record, error) {
	ids, err := s.client.SMembers(ctx, recordsSetKey).Result()
	if err != nil {
		return nil, store.Classify("query", err)
	}
	if len(ids) == 0 {
		return []*store.Record{}, nil
	}

	records, err := s.fetchRecords(ctx, "query", ids)
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, rec := range records {
		if filter.OnlyIncomplete && rec.IsComplete {
			continue
		}
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindBySession looks up the records for a logical session id through the
// identity index. Returns store.ErrNotFound when the session has no
// records; other failures carry a classification and callers may fall back
// to a full Query scan.
func (s *Store) FindBySession(ctx context.Context, sessionID string) ([]*store.Record, error) {
	ids, err := s.client.SMembers(ctx, indexPrefix+sessionID).Result()
	if err != nil {
		return nil, store.Classify("find", err)
	}
	if len(ids) == 0 {
		return nil, store.ErrNotFound
	}

	records, err := s.fetchRecords(ctx, "find", ids)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// Index entries pointing at vanished hashes: treat as absent.
		return nil, store.ErrNotFound
	}
	return records, nil
}

// Delete removes a single record and its index entries. Idempotent:
// deleting an absent record is a no-op.
func (s *Store) Delete(ctx context.Context, recordID string) error {
	recKey := recordPrefix + recordID

	sessionID, err := s.client.HGet(ctx, recKey, "session_id").Result()
	if err == redis.Nil {
		// Record already gone; still drop any dangling membership.
		if err := s.client.SRem(ctx, recordsSetKey, recordID).Err(); err != nil {
			return store.Classify("delete", err)
		}
		return nil
	}
	if err != nil {
		return store.Classify("delete", err)
	}

	keys := []string{recKey, indexPrefix + sessionID, recordsSetKey}
	if err := deleteRecordScript.Run(ctx, s.client, keys, recordID).Err(); err != nil {
		return store.Classify("delete", err)
	}
	return nil
}

// fetchRecords pipelines HGETALL for the given record ids and parses the
// results, pruning dangling index members as it goes.
func (s *Store) fetchRecords(ctx context.Context, op string, ids []string) ([]*store.Record, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, recordPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, store.Classify(op, err)
	}

	records := make([]*store.Record, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		rec, err := parseRecord(data)
		if err != nil {
			// Skip records that violate the schema contract.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
