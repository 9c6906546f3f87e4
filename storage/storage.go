// Package storage persists the pool's bookkeeping state in a prefixed
// key-value database. Every mutating pool operation writes all of its
// effects through a single WriteTx, so a crash can never leave a partially
// applied operation behind. The following prefixes are used:
//   - 'c/' for commitment records
//   - 'i/' for the leafIndex -> commitment index
//   - 'n/' for the spent nullifier set
//   - 't/' for the merkle tree snapshot (filled subtrees, roots, cursor)
//   - 's/' for the pool meta (counters, flags, governance)
//   - 'cp/' for compliance records by request id
//   - 'cx/' for the compliance-by-commitment index
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	commitmentPrefix      = []byte("c/")
	leafIndexPrefix       = []byte("i/")
	nullifierPrefix       = []byte("n/")
	treePrefix            = []byte("t/")
	metaPrefix            = []byte("s/")
	compliancePrefix      = []byte("cp/")
	complianceIndexPrefix = []byte("cx/")
)

var (
	treeStateKey = []byte("state")
	poolMetaKey  = []byte("meta")
)

// Storage wraps the key-value database holding the pool state.
type Storage struct {
	db db.Database
}

// New creates a new Storage instance over the given database.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the underlying database.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		panic(err)
	}
}

// WriteTx opens a write transaction spanning all prefixes. The caller must
// Commit or Discard it.
func (s *Storage) WriteTx() db.WriteTx {
	return s.db.WriteTx()
}

func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

func leafIndexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func setArtifact(wtx db.WriteTx, prefix, key []byte, a any) error {
	data, err := encodeArtifact(a)
	if err != nil {
		return err
	}
	return prefixeddb.NewPrefixedWriteTx(wtx, prefix).Set(key, data)
}

func (s *Storage) getArtifact(prefix, key []byte, out any) (bool, error) {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err == db.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decodeArtifact(data, out)
}
