package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/raxautoscale/convergence/pkg/model"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketGroups     = "groups"
	bucketGroupState = "group_state"
	bucketMeta       = "meta"
)

// BoltStore is a Store backed by a single bbolt file: one bucket per row
// kind, keyed by tenant_id/group_id for groups and group_id for state.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path, initializing the
// buckets this engine needs and verifying the schema version.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &BoltStore{db: db}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketGroups, bucketGroupState, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(SchemaVersion))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store initialization failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func groupKey(tenantID, groupID string) []byte {
	return []byte(tenantID + "/" + groupID)
}

// GetGroup returns the stored group, or *model.NoSuchGroupError if none exists.
func (s *BoltStore) GetGroup(ctx context.Context, tenantID, groupID string) (*model.ScalingGroup, error) {
	var group model.ScalingGroup
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketGroups)).Get(groupKey(tenantID, groupID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, fmt.Errorf("GetGroup(%s/%s): %w", tenantID, groupID, err)
	}
	if !found {
		return nil, &model.NoSuchGroupError{TenantID: tenantID, GroupID: groupID}
	}
	return &group, nil
}

// PutGroup writes or replaces a group row.
func (s *BoltStore) PutGroup(ctx context.Context, group *model.ScalingGroup) error {
	data, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("PutGroup marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGroups)).Put(groupKey(group.TenantID, group.GroupID), data)
	})
}

// DeleteGroup removes a group row and its associated state row.
func (s *BoltStore) DeleteGroup(ctx context.Context, tenantID, groupID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketGroups)).Delete(groupKey(tenantID, groupID)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketGroupState)).Delete([]byte(groupID))
	})
}

// ListGroups returns every group row belonging to tenantID.
func (s *BoltStore) ListGroups(ctx context.Context, tenantID string) ([]model.ScalingGroup, error) {
	prefix := []byte(tenantID + "/")
	var out []model.ScalingGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketGroups)).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var group model.ScalingGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			out = append(out, group)
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// GetGroupState returns the stored runtime state, or a freshly
// initialized one if the group has never been converged.
func (s *BoltStore) GetGroupState(ctx context.Context, groupID string) (*model.GroupState, error) {
	state := model.NewGroupState()
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketGroupState)).Get([]byte(groupID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, state)
	})
	if err != nil {
		return nil, fmt.Errorf("GetGroupState(%s): %w", groupID, err)
	}
	return state, nil
}

// PutGroupState writes or replaces a group's runtime state row. Touch
// timestamps serialize as RFC3339 (ISO-8601 UTC) via encoding/json's
// default time.Time marshaling.
func (s *BoltStore) PutGroupState(ctx context.Context, groupID string, state *model.GroupState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("PutGroupState marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketGroupState)).Put([]byte(groupID), data)
	})
}
