package vault

import (
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

// keySlot holds one session's vault key. mu is held for the whole of any
// operation that reads key, so a concurrent lock can never zero the key
// mid-decrypt.
type keySlot struct {
	mu         sync.Mutex
	key        *memguard.LockedBuffer
	userID     string
	unlockedAt time.Time
	lastUsedAt time.Time
}

// set stores key, wiping the caller's copy. mu must be held.
func (s *keySlot) set(key []byte, userID string, now time.Time) {
	s.wipe()
	s.key = memguard.NewBufferFromBytes(key)
	s.userID = userID
	s.unlockedAt = now
	s.lastUsedAt = now
}

// wipe destroys the key and reports whether one was held. mu must be held.
func (s *keySlot) wipe() bool {
	if s.key == nil {
		return false
	}
	s.key.Destroy()
	s.key = nil
	s.unlockedAt = time.Time{}
	s.lastUsedAt = time.Time{}
	return true
}

type keyring struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

func newKeyring() *keyring {
	return &keyring{slots: make(map[string]*keySlot)}
}

// lock returns the slot for sessionID with its mutex held, creating it
// when create is set. It returns nil if there is no slot. The returned slot
// is guaranteed to still be the one registered for sessionID.
func (k *keyring) lock(sessionID string, create bool) *keySlot {
	for {
		k.mu.Lock()
		s, ok := k.slots[sessionID]
		if !ok {
			if !create {
				k.mu.Unlock()
				return nil
			}
			s = &keySlot{}
			k.slots[sessionID] = s
		}
		k.mu.Unlock()

		s.mu.Lock()
		k.mu.Lock()
		current := k.slots[sessionID]
		k.mu.Unlock()
		if current == s {
			return s
		}
		s.mu.Unlock()
	}
}

// drop unregisters s for sessionID. s.mu must be held.
func (k *keyring) drop(sessionID string, s *keySlot) {
	k.mu.Lock()
	if k.slots[sessionID] == s {
		delete(k.slots, sessionID)
	}
	k.mu.Unlock()
}

// ids returns every registered session ID.
func (k *keyring) ids() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]string, 0, len(k.slots))
	for id := range k.slots {
		out = append(out, id)
	}
	return out
}
