package acl

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arvht/chainkey/internal/keyValStore"
)

// LocalStore is the in-process ACL backend. Grant and revoke on the
// same file are serialized by a per-file lock; reads are lock-free
// against the store snapshot.
type LocalStore struct {
	mu        sync.Mutex
	owners    map[string]string
	grants    map[string]Grant
	fileLocks map[string]*sync.Mutex
	store     *keyValStore.KeyValStore
	clock     Clock
}

// NewLocalStore creates a local ACL store. The KV store may be nil for
// a memory-only store (tests); clock nil means wall clock.
func NewLocalStore(store *keyValStore.KeyValStore, clock Clock) *LocalStore { // A
	if clock == nil {
		clock = realClock{}
	}
	return &LocalStore{
		owners:    make(map[string]string),
		grants:    make(map[string]Grant),
		fileLocks: make(map[string]*sync.Mutex),
		store:     store,
		clock:     clock,
	}
}

// SetOwner registers the file's owner. The first registration wins;
// re-registering the same owner is a no-op.
func (s *LocalStore) SetOwner(fileID, owner string) error { // A
	if fileID == "" || owner == "" {
		return fmt.Errorf("acl: file id and owner must not be empty")
	}

	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.ownerOf(fileID)
	if err == nil {
		if existing != owner {
			return fmt.Errorf("%w: %s already owned by %s", ErrNotOwner, fileID, existing)
		}
		return nil
	}

	if s.store != nil {
		if err := s.store.Write(ownerKey(fileID), []byte(owner)); err != nil {
			return fmt.Errorf("persist owner: %w", err)
		}
	}

	s.mu.Lock()
	s.owners[fileID] = owner
	s.mu.Unlock()
	return nil
}

// Grant upserts access for grantee. A non-empty device list replaces
// the previous list wholesale rather than merging with it.
func (s *LocalStore) Grant(fileID, caller, grantee string, expiry int64, deviceIDs []string) (Grant, error) { // AP
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	owner, err := s.ownerOf(fileID)
	if err != nil {
		return Grant{}, err
	}
	if owner != caller {
		return Grant{}, ErrNotOwner
	}

	grant := Grant{
		FileID:   fileID,
		Owner:    owner,
		Grantee:  grantee,
		Allowed:  true,
		Expiry:   expiry,
		Devices:  append([]string(nil), deviceIDs...),
		Revoked:  false,
		Modified: s.clock.Now().Unix(),
	}

	if err := s.putGrant(grant); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// Revoke disables the grant but keeps the record for audit.
func (s *LocalStore) Revoke(fileID, caller, grantee string) error { // AP
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	owner, err := s.ownerOf(fileID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotOwner
	}

	grant := Grant{
		FileID:   fileID,
		Owner:    owner,
		Grantee:  grantee,
		Allowed:  false,
		Expiry:   0,
		Devices:  nil,
		Revoked:  true,
		Modified: s.clock.Now().Unix(),
	}
	return s.putGrant(grant)
}

// IsAllowed evaluates the access predicate.
func (s *LocalStore) IsAllowed(fileID, user, deviceID string) (bool, error) { // AP
	grant, ok, err := s.grantFor(fileID, user)
	if err != nil {
		return false, err
	}
	if !ok || !grant.Allowed || grant.Revoked {
		return false, nil
	}

	if grant.Expiry != 0 && s.clock.Now().Unix() > grant.Expiry {
		return false, nil
	}

	if len(grant.Devices) > 0 {
		for _, d := range grant.Devices {
			if d == deviceID {
				return true, nil
			}
		}
		return false, nil
	}

	return true, nil
}

var _ Store = (*LocalStore)(nil)

func (s *LocalStore) fileLock(fileID string) *sync.Mutex { // A
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.fileLocks[fileID]
	if !ok {
		lock = &sync.Mutex{}
		s.fileLocks[fileID] = lock
	}
	return lock
}

func (s *LocalStore) ownerOf(fileID string) (string, error) { // A
	s.mu.Lock()
	owner, ok := s.owners[fileID]
	s.mu.Unlock()
	if ok {
		return owner, nil
	}

	if s.store == nil {
		return "", ErrUnknownFile
	}

	raw, err := s.store.Read(ownerKey(fileID))
	if err != nil {
		if keyValStore.IsNotFound(err) {
			return "", ErrUnknownFile
		}
		return "", fmt.Errorf("read owner: %w", err)
	}

	owner = string(raw)
	s.mu.Lock()
	s.owners[fileID] = owner
	s.mu.Unlock()
	return owner, nil
}

func (s *LocalStore) putGrant(grant Grant) error { // A
	if s.store != nil {
		raw, err := json.Marshal(grant)
		if err != nil {
			return fmt.Errorf("marshal grant: %w", err)
		}
		if err := s.store.Write(grantKey(grant.FileID, grant.Grantee), raw); err != nil {
			return fmt.Errorf("persist grant: %w", err)
		}
	}

	s.mu.Lock()
	s.grants[grantMapKey(grant.FileID, grant.Grantee)] = grant
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) grantFor(fileID, grantee string) (Grant, bool, error) { // A
	s.mu.Lock()
	grant, ok := s.grants[grantMapKey(fileID, grantee)]
	s.mu.Unlock()
	if ok {
		return grant, true, nil
	}

	if s.store == nil {
		return Grant{}, false, nil
	}

	raw, err := s.store.Read(grantKey(fileID, grantee))
	if err != nil {
		if keyValStore.IsNotFound(err) {
			return Grant{}, false, nil
		}
		return Grant{}, false, fmt.Errorf("read grant: %w", err)
	}

	if err := json.Unmarshal(raw, &grant); err != nil {
		return Grant{}, false, fmt.Errorf("decode grant: %w", err)
	}

	s.mu.Lock()
	s.grants[grantMapKey(fileID, grantee)] = grant
	s.mu.Unlock()
	return grant, true, nil
}

func ownerKey(fileID string) []byte { // A
	return []byte("owner/" + fileID)
}

func grantKey(fileID, grantee string) []byte { // A
	return []byte("grant/" + fileID + "/" + grantee)
}

func grantMapKey(fileID, grantee string) string { // A
	return fileID + "::" + grantee
}
