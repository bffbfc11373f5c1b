package planstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketDeployments = []byte("deployments")

// BoltStore implements Store using a local BoltDB file. Every mutation
// runs in a single write transaction, which gives the atomic-overwrite
// guarantee for free.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the state database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "canopy.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDeployments)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create deployments bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(name string) (*types.DeploymentState, bool, error) {
	var state types.DeploymentState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeployments).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(data, &state); err != nil {
			return errdefs.StateCorrupted(fmt.Errorf("deployment %s: %w", name, err))
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if err := state.CheckIntegrity(); err != nil {
		return nil, true, errdefs.StateCorrupted(err)
	}
	return &state, true, nil
}

func (s *BoltStore) Save(name string, state *types.DeploymentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state for %s: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).Put([]byte(name), data)
	})
}

func (s *BoltStore) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).Delete([]byte(name))
	})
}

func (s *BoltStore) List() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
