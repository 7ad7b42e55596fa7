package collab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
)

// LocalCache is the offline-first persistence boundary. The engine loads
// a snapshot at startup and appends every local update; cache entries for
// different containers never cross-contaminate.
type LocalCache interface {
	// LoadSnapshot returns nil bytes when no snapshot exists
	LoadSnapshot(containerId Id) ([]byte, error)
	StoreSnapshot(containerId Id, snapshotBytes []byte) error
	AppendUpdate(containerId Id, updateBytes []byte) error
	// Updates returns the updates appended since the last snapshot
	Updates(containerId Id) ([][]byte, error)
	Clear(containerId Id) error
}

type MemoryCache struct {
	mutex     sync.Mutex
	snapshots map[Id][]byte
	updates   map[Id][][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		snapshots: map[Id][]byte{},
		updates:   map[Id][][]byte{},
	}
}

func (self *MemoryCache) LoadSnapshot(containerId Id) ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	snapshotBytes := self.snapshots[containerId]
	if snapshotBytes == nil {
		return nil, nil
	}
	out := make([]byte, len(snapshotBytes))
	copy(out, snapshotBytes)
	return out, nil
}

func (self *MemoryCache) StoreSnapshot(containerId Id, snapshotBytes []byte) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	b := make([]byte, len(snapshotBytes))
	copy(b, snapshotBytes)
	self.snapshots[containerId] = b
	// the snapshot supersedes the buffered updates
	delete(self.updates, containerId)
	return nil
}

func (self *MemoryCache) AppendUpdate(containerId Id, updateBytes []byte) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	b := make([]byte, len(updateBytes))
	copy(b, updateBytes)
	self.updates[containerId] = append(self.updates[containerId], b)
	return nil
}

func (self *MemoryCache) Updates(containerId Id) ([][]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	updates := [][]byte{}
	for _, updateBytes := range self.updates[containerId] {
		b := make([]byte, len(updateBytes))
		copy(b, updateBytes)
		updates = append(updates, b)
	}
	return updates, nil
}

func (self *MemoryCache) Clear(containerId Id) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.snapshots, containerId)
	delete(self.updates, containerId)
	return nil
}

// FileCache keeps one directory per container under a root directory:
// a snapshot file plus a length-prefixed update log.
type FileCache struct {
	rootDirPath string
	mutex       sync.Mutex
}

func NewFileCache(rootDirPath string) (*FileCache, error) {
	if err := os.MkdirAll(rootDirPath, 0700); err != nil {
		return nil, err
	}
	return &FileCache{
		rootDirPath: rootDirPath,
	}, nil
}

func (self *FileCache) containerDirPath(containerId Id) string {
	return filepath.Join(self.rootDirPath, containerId.String())
}

func (self *FileCache) LoadSnapshot(containerId Id) ([]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	snapshotBytes, err := os.ReadFile(filepath.Join(self.containerDirPath(containerId), "snapshot"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return snapshotBytes, err
}

func (self *FileCache) StoreSnapshot(containerId Id, snapshotBytes []byte) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	dirPath := self.containerDirPath(containerId)
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return err
	}
	// write-then-rename so a crash never leaves a torn snapshot
	tempPath := filepath.Join(dirPath, "snapshot.tmp")
	if err := os.WriteFile(tempPath, snapshotBytes, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, filepath.Join(dirPath, "snapshot")); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dirPath, "updates.log")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (self *FileCache) AppendUpdate(containerId Id, updateBytes []byte) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	dirPath := self.containerDirPath(containerId)
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dirPath, "updates.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(updateBytes)))
	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	_, err = f.Write(updateBytes)
	return err
}

func (self *FileCache) Updates(containerId Id) ([][]byte, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	logBytes, err := os.ReadFile(filepath.Join(self.containerDirPath(containerId), "updates.log"))
	if errors.Is(err, os.ErrNotExist) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	updates := [][]byte{}
	for 0 < len(logBytes) {
		if len(logBytes) < 4 {
			return nil, io.ErrUnexpectedEOF
		}
		n := int(binary.BigEndian.Uint32(logBytes[0:4]))
		logBytes = logBytes[4:]
		if len(logBytes) < n {
			// a torn tail write; keep what decoded cleanly
			break
		}
		updates = append(updates, logBytes[0:n])
		logBytes = logBytes[n:]
	}
	return updates, nil
}

func (self *FileCache) Clear(containerId Id) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return os.RemoveAll(self.containerDirPath(containerId))
}

// RestoreDoc loads the cached snapshot and buffered updates for the page
// into the doc, for offline-first startup.
func RestoreDoc(cache LocalCache, doc *Doc) error {
	snapshotBytes, err := cache.LoadSnapshot(doc.PageId())
	if err != nil {
		return err
	}
	if snapshotBytes != nil {
		if err := doc.LoadSnapshot(snapshotBytes); err != nil {
			return err
		}
	}
	updates, err := cache.Updates(doc.PageId())
	if err != nil {
		return err
	}
	for _, updateBytes := range updates {
		if err := doc.ApplyUpdate(updateBytes); err != nil {
			return fmt.Errorf("cached update: %w", err)
		}
	}
	return nil
}

// PersistDoc wires a doc to the cache: every local change event appends
// its update. Returns the unsubscribe.
func PersistDoc(cache LocalCache, doc *Doc) func() {
	return doc.Subscribe(func(event *ChangeEvent) {
		if !event.Local {
			return
		}
		if err := cache.AppendUpdate(event.PageId, event.UpdateBytes); err != nil {
			// the doc stays authoritative in memory; losing the append
			// only costs offline recovery of this update
			glog.Infof("[cache]append %s error = %s\n", event.PageId, err)
		}
	})
}
