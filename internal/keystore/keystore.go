package keystore

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chatique/internal/crypto"
	"chatique/internal/domain"
)

// prefKey names the persisted record in the preference store.
const prefKey = "stored_remote_keys"

type dualIndex struct {
	Channel domain.ChannelID
	Version domain.KeyVersion
}

type memberIndex struct {
	Channel domain.ChannelID
	User    domain.UserID
}

// Store maps channels to symmetric key material. Safe for concurrent use;
// every write is a single logical step, no transaction spans entries.
type Store struct {
	prefs  domain.PreferenceStore
	log    *zap.Logger
	notify func(domain.ChannelID)

	mu       sync.Mutex
	dual     map[dualIndex]domain.SymmetricKey
	members  map[memberIndex]domain.SymmetricKey
	versions map[domain.ChannelID]domain.KeyVersion
}

// New builds an empty store backed by prefs. Call Restore to load persisted
// keys before first use.
func New(prefs domain.PreferenceStore, log *zap.Logger) *Store {
	return &Store{
		prefs:    prefs,
		log:      log,
		dual:     make(map[dualIndex]domain.SymmetricKey),
		members:  make(map[memberIndex]domain.SymmetricKey),
		versions: make(map[domain.ChannelID]domain.KeyVersion),
	}
}

// OnKeyInstalled registers the hook fired whenever a dual or group key is
// installed. Used for the "key became available" signal; must be set before
// the store is shared across goroutines.
func (s *Store) OnKeyInstalled(fn func(domain.ChannelID)) { s.notify = fn }

// Get returns the dual key stored at (channel, version).
func (s *Store) Get(channel domain.ChannelID, version domain.KeyVersion) (domain.SymmetricKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.dual[dualIndex{channel, version}]
	return k, ok
}

// Put installs a dual key at (channel, version), overwriting any previous
// value, and persists.
func (s *Store) Put(channel domain.ChannelID, version domain.KeyVersion, key domain.SymmetricKey) error {
	s.mu.Lock()
	s.dual[dualIndex{channel, version}] = key
	err := s.persistLocked()
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(channel)
	}
	return err
}

// MemberKey returns the pairwise key held for a specific group member.
func (s *Store) MemberKey(channel domain.ChannelID, user domain.UserID) (domain.SymmetricKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.members[memberIndex{channel, user}]
	return k, ok
}

// PutMemberKey installs a pairwise member key. Member keys are
// session-scoped and never persisted.
func (s *Store) PutMemberKey(channel domain.ChannelID, user domain.UserID, key domain.SymmetricKey) error {
	s.mu.Lock()
	s.members[memberIndex{channel, user}] = key
	s.mu.Unlock()
	return nil
}

// CurrentVersion answers "what version should I encrypt with now";
// 0 for an unseen channel.
func (s *Store) CurrentVersion(channel domain.ChannelID) domain.KeyVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[channel]
}

// NextVersion advances the channel's counter and returns the new value. The
// first exchange on a channel yields version 0. Counters never decrease.
func (s *Store) NextVersion(channel domain.ChannelID) domain.KeyVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, seen := s.versions[channel]
	if seen {
		v++
	}
	s.versions[channel] = v
	return v
}

// storedKeys is the persisted record layout: dual keys plus version
// counters. Member keys are deliberately absent.
type storedKeys struct {
	Items    []storedKey     `json:"items"`
	Versions []storedVersion `json:"keyVersions"`
}

type storedKey struct {
	Channel string `json:"chatId"`
	Version int64  `json:"keyVersion"`
	Key     string `json:"key"`
}

type storedVersion struct {
	Channel string `json:"chatId"`
	Version int64  `json:"keyVersion"`
}

// Persist serializes the dual keyspace and version counters to the
// preference store.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	rec := storedKeys{
		Items:    make([]storedKey, 0, len(s.dual)),
		Versions: make([]storedVersion, 0, len(s.versions)),
	}
	for idx, key := range s.dual {
		rec.Items = append(rec.Items, storedKey{
			Channel: string(idx.Channel),
			Version: int64(idx.Version),
			Key:     crypto.B64(key.Material),
		})
	}
	for ch, v := range s.versions {
		rec.Versions = append(rec.Versions, storedVersion{Channel: string(ch), Version: int64(v)})
	}
	if err := s.prefs.Store(prefKey, rec); err != nil {
		return fmt.Errorf("keystore: persist: %w", err)
	}
	return nil
}

// Restore loads the persisted record back into memory. Invoked once at
// session start; a missing record is a clean first run.
func (s *Store) Restore() error {
	var rec storedKeys
	ok, err := s.prefs.Load(prefKey, &rec)
	if err != nil {
		return fmt.Errorf("keystore: restore: %w", err)
	}
	if !ok {
		return nil
	}

	restored := make(map[domain.ChannelID]struct{})
	s.mu.Lock()
	for _, item := range rec.Items {
		material, err := crypto.FromB64(item.Key)
		if err != nil {
			s.log.Warn("keystore: skipping undecodable key",
				zap.String("channel", item.Channel), zap.Int64("version", item.Version))
			continue
		}
		ch := domain.ChannelID(item.Channel)
		s.dual[dualIndex{ch, domain.KeyVersion(item.Version)}] = domain.NewAESKey(material)
		restored[ch] = struct{}{}
	}
	s.versions = make(map[domain.ChannelID]domain.KeyVersion, len(rec.Versions))
	for _, v := range rec.Versions {
		s.versions[domain.ChannelID(v.Channel)] = domain.KeyVersion(v.Version)
	}
	s.mu.Unlock()

	if s.notify != nil {
		for ch := range restored {
			s.notify(ch)
		}
	}
	return nil
}

// Clear wipes all in-memory key material and the persisted record. Invoked
// on logout.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.dual = make(map[dualIndex]domain.SymmetricKey)
	s.members = make(map[memberIndex]domain.SymmetricKey)
	s.versions = make(map[domain.ChannelID]domain.KeyVersion)
	s.mu.Unlock()
	return s.prefs.Delete(prefKey)
}

// Channels lists channels that currently hold at least one dual key.
func (s *Store) Channels() []domain.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[domain.ChannelID]struct{})
	out := make([]domain.ChannelID, 0, len(s.dual))
	for idx := range s.dual {
		if _, dup := seen[idx.Channel]; dup {
			continue
		}
		seen[idx.Channel] = struct{}{}
		out = append(out, idx.Channel)
	}
	return out
}
