package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"sentinel/internal/domain"
	"sentinel/internal/faults"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	incidentPrefix = "incident/"
	schedulePrefix = "schedule/"
	auditPrefix    = "audit/"
	auditSeqKey    = "seq/audit"
)

// BadgerStore persists incidents, schedules, and audit records on disk.
// Params: badger database handle and audit sequence allocator.
// Returns: durable backend selected by store mode badger.
type BadgerStore struct {
	db       *badger.DB
	auditSeq *badger.Sequence
}

// NewBadgerStore opens or creates the badger database in dir.
// Params: database directory.
// Returns: initialized store or open error.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	options := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger store at %q: %w", dir, err)
	}
	auditSeq, err := db.GetSequence([]byte(auditSeqKey), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open audit sequence: %w", err)
	}
	return &BadgerStore{db: db, auditSeq: auditSeq}, nil
}

// SaveIncident stores one incident snapshot by id.
// Params: incident snapshot.
// Returns: encode or write error.
func (s *BadgerStore) SaveIncident(incident domain.Incident) error {
	return s.saveJSON(incidentPrefix+incident.ID, incident)
}

// GetIncident loads one incident by id.
// Params: incident id.
// Returns: incident or faults.ErrNotFound.
func (s *BadgerStore) GetIncident(id string) (domain.Incident, error) {
	var incident domain.Incident
	if err := s.loadJSON(incidentPrefix+id, &incident); err != nil {
		return domain.Incident{}, err
	}
	return incident, nil
}

// ListIncidents returns all stored incidents.
// Params: none.
// Returns: incidents sorted by detection time then id.
func (s *BadgerStore) ListIncidents() ([]domain.Incident, error) {
	var out []domain.Incident
	err := s.scanPrefix(incidentPrefix, func(value []byte) error {
		var incident domain.Incident
		if err := json.Unmarshal(value, &incident); err != nil {
			return err
		}
		out = append(out, incident)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendAudit appends one audit record with the next sequence number.
// Params: audit record; Seq is assigned from the badger sequence.
// Returns: sequence, encode, or write error.
func (s *BadgerStore) AppendAudit(record AuditRecord) error {
	next, err := s.auditSeq.Next()
	if err != nil {
		return fmt.Errorf("allocate audit sequence: %w", err)
	}
	record.Seq = next + 1
	key := make([]byte, len(auditPrefix)+8)
	copy(key, auditPrefix)
	binary.BigEndian.PutUint64(key[len(auditPrefix):], record.Seq)

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// ListAudit returns the full audit trail in sequence order.
// Params: none.
// Returns: audit records ordered by big-endian sequence key.
func (s *BadgerStore) ListAudit() ([]AuditRecord, error) {
	var out []AuditRecord
	err := s.scanPrefix(auditPrefix, func(value []byte) error {
		var record AuditRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		out = append(out, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSchedule stores one schedule snapshot by id.
// Params: schedule snapshot.
// Returns: encode or write error.
func (s *BadgerStore) SaveSchedule(schedule domain.Schedule) error {
	return s.saveJSON(schedulePrefix+schedule.ID, schedule)
}

// GetSchedule loads one schedule by id.
// Params: schedule id.
// Returns: schedule or faults.ErrNotFound.
func (s *BadgerStore) GetSchedule(id string) (domain.Schedule, error) {
	var schedule domain.Schedule
	if err := s.loadJSON(schedulePrefix+id, &schedule); err != nil {
		return domain.Schedule{}, err
	}
	return schedule, nil
}

// ListSchedules returns all stored schedules.
// Params: none.
// Returns: schedules sorted by creation time then id.
func (s *BadgerStore) ListSchedules() ([]domain.Schedule, error) {
	var out []domain.Schedule
	err := s.scanPrefix(schedulePrefix, func(value []byte) error {
		var schedule domain.Schedule
		if err := json.Unmarshal(value, &schedule); err != nil {
			return err
		}
		out = append(out, schedule)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close releases the audit sequence and the database handle.
// Params: none.
// Returns: first close error.
func (s *BadgerStore) Close() error {
	if err := s.auditSeq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release audit sequence: %w", err)
	}
	return s.db.Close()
}

// saveJSON writes one JSON-encoded value under key.
// Params: string key and encodable value.
// Returns: encode or write error.
func (s *BadgerStore) saveJSON(key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encoded)
	})
}

// loadJSON reads and decodes one value by key.
// Params: string key and decode destination.
// Returns: faults.ErrNotFound on miss or decode error.
func (s *BadgerStore) loadJSON(key string, dest any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return faults.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, dest)
		})
	})
}

// scanPrefix iterates all values under one key prefix.
// Params: key prefix and per-value callback.
// Returns: first iteration or callback error.
func (s *BadgerStore) scanPrefix(prefix string, fn func(value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(prefix)
		iterator := txn.NewIterator(options)
		defer iterator.Close()
		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			if err := iterator.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
