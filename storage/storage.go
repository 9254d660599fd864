// Package storage writes the peer's local snapshots: the card multiset and
// the peer directory, each as a JSON document replaced atomically.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/luca-patrignani/cardswap/directory"
)

const (
	CardsFile = "numbers.json"
	PeersFile = "peers.json"
)

// FileStore keeps snapshots under a data directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// SaveCards implements inventory.Store.
func (s *FileStore) SaveCards(cards []int) error {
	if cards == nil {
		cards = []int{}
	}
	return WriteJSON(filepath.Join(s.dir, CardsFile), cards)
}

// SavePeers persists the directory snapshot.
func (s *FileStore) SavePeers(peers []directory.Peer) error {
	if peers == nil {
		peers = []directory.Peer{}
	}
	return WriteJSON(filepath.Join(s.dir, PeersFile), peers)
}

// LoadCards reads the last card snapshot. A missing file yields an empty hand.
func (s *FileStore) LoadCards() ([]int, error) {
	var cards []int
	if err := ReadJSON(filepath.Join(s.dir, CardsFile), &cards); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return cards, nil
}

// LoadPeers reads the last directory snapshot. A missing file yields no peers.
func (s *FileStore) LoadPeers() ([]directory.Peer, error) {
	var peers []directory.Peer
	if err := ReadJSON(filepath.Join(s.dir, PeersFile), &peers); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return peers, nil
}

// WriteJSON writes v to a temp file in the same directory and renames it over
// path, so readers never observe a partial document.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON decodes the document at path into v.
func ReadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
