// Package logparser classifies raw log lines into typed events and
// correlates damage/wound/death/revive chains through a short-lived
// store.
package logparser

import (
	"container/list"
	"sync"
	"time"
)

// IdentityCacheSize caps the EOS-keyed identity cache.
const IdentityCacheSize = 1024

// DamageRecord is the attacker side of a damage or wound line, kept so
// later wound/died lines can be enriched.
type DamageRecord struct {
	Time               time.Time
	ChainID            int
	Damage             float64
	Weapon             string
	AttackerName       string
	AttackerController string
	AttackerEOS        string
	AttackerSteam      string
}

// VictimSession holds the most recent damage and wound records for one
// victim name, plus the identity facts the team-joined lines taught us.
// The combat records are cleared when a died or revived event is
// emitted; team and EOS id persist until the next map.
type VictimSession struct {
	LastDamage *DamageRecord
	LastWound  *DamageRecord
	TeamID     int
	EOSID      string
}

// Identity is a cached player identity keyed by EOS id.
type Identity struct {
	EOSID      string
	SteamID    string
	Name       string
	Controller string
	TeamID     int
}

// JoinRequest is a pending connection, keyed by chain id until the
// join-succeeded line resolves it.
type JoinRequest struct {
	Time       time.Time
	Controller string
	IPAddress  string
	EOSID      string
	SteamID    string
}

// RoundSide is one accumulating side of the round result.
type RoundSide struct {
	Team       int
	Faction    string
	Subfaction string
	Tickets    int
	Layer      string
	Level      string
}

// EventStore is the correlation state shared by the parse rules. The
// rule loop is its only writer; the mutex guards the snapshot accessors
// other components use for diagnostics.
type EventStore struct {
	mu sync.RWMutex

	sessions     map[string]*VictimSession
	joinRequests map[int]*JoinRequest

	identities *identityCache

	// Round accumulator. matchWinner/matchLayer come from the
	// winner-determined line; sides come from ticket lines.
	matchWinnerSet bool
	matchWinner    string
	matchLayer     string
	roundWinner    *RoundSide
	roundLoser     *RoundSide
}

func NewEventStore() *EventStore {
	return &EventStore{
		sessions:     make(map[string]*VictimSession),
		joinRequests: make(map[int]*JoinRequest),
		identities:   newIdentityCache(IdentityCacheSize),
	}
}

// Session returns the victim session for a name, or nil.
func (s *EventStore) Session(name string) *VictimSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[name]
}

func (s *EventStore) sessionFor(name string) *VictimSession {
	sess, ok := s.sessions[name]
	if !ok {
		sess = &VictimSession{}
		s.sessions[name] = sess
	}
	return sess
}

// RecordDamage stores the last-damage record for a victim.
func (s *EventStore) RecordDamage(victim string, rec *DamageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionFor(victim).LastDamage = rec
}

// RecordWound stores the last-wound record for a victim.
func (s *EventStore) RecordWound(victim string, rec *DamageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionFor(victim).LastWound = rec
}

// ClearCombatRecords drops a victim's damage and wound records after a
// died or revived emission. Team and EOS id stay so later engagements
// can still be classified.
func (s *EventStore) ClearCombatRecords(victim string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[victim]; ok {
		sess.LastDamage = nil
		sess.LastWound = nil
	}
}

// SetTeamByName records the team a named player is on, for teamkill
// detection.
func (s *EventStore) SetTeamByName(name string, teamID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionFor(name).TeamID = teamID
}

// SetSessionEOS records the EOS id behind a player name.
func (s *EventStore) SetSessionEOS(name, eosID string) {
	if eosID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionFor(name).EOSID = eosID
}

// TeamByName returns the recorded team for a name, 0 when unknown.
func (s *EventStore) TeamByName(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[name]; ok {
		return sess.TeamID
	}
	return 0
}

// UpsertIdentity merges fields into the cached identity for an EOS id.
// Zero-valued fields leave the cached value untouched.
func (s *EventStore) UpsertIdentity(eosID string, update Identity) {
	if eosID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.identities.get(eosID)
	if id == nil {
		id = &Identity{EOSID: eosID}
	}
	if update.SteamID != "" {
		id.SteamID = update.SteamID
	}
	if update.Name != "" {
		id.Name = update.Name
	}
	if update.Controller != "" {
		id.Controller = update.Controller
	}
	if update.TeamID != 0 {
		id.TeamID = update.TeamID
	}
	s.identities.put(eosID, id)
}

// IdentityByEOS returns a copy of the cached identity, or false.
func (s *EventStore) IdentityByEOS(eosID string) (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.identities.get(eosID)
	if id == nil {
		return Identity{}, false
	}
	return *id, true
}

// AddJoinRequest stores a pending connection keyed by chain id.
func (s *EventStore) AddJoinRequest(chainID int, req *JoinRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joinRequests[chainID] = req
}

// TakeJoinRequest resolves and removes the pending connection.
func (s *EventStore) TakeJoinRequest(chainID int) (*JoinRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.joinRequests[chainID]
	if ok {
		delete(s.joinRequests, chainID)
	}
	return req, ok
}

// SetMatchWinner records the winner-determined line. A second call
// before the round ends (a draw) clears the winner but keeps the layer.
func (s *EventStore) SetMatchWinner(winner, layer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matchWinnerSet {
		s.matchWinner = ""
		s.matchLayer = layer
		return
	}
	s.matchWinnerSet = true
	s.matchWinner = winner
	s.matchLayer = layer
}

// TakeMatchWinner consumes the winner slot.
func (s *EventStore) TakeMatchWinner() (winner, layer string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.matchWinnerSet {
		return "", "", false
	}
	winner, layer = s.matchWinner, s.matchLayer
	s.matchWinnerSet = false
	s.matchWinner, s.matchLayer = "", ""
	return winner, layer, true
}

// SetRoundSide accumulates one side of the round result.
func (s *EventStore) SetRoundSide(won bool, side *RoundSide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if won {
		s.roundWinner = side
	} else {
		s.roundLoser = side
	}
}

// TakeRoundResult consumes the accumulated sides; either may be nil.
func (s *EventStore) TakeRoundResult() (winner, loser *RoundSide) {
	s.mu.Lock()
	defer s.mu.Unlock()
	winner, loser = s.roundWinner, s.roundLoser
	s.roundWinner, s.roundLoser = nil, nil
	return winner, loser
}

// ResetForNewGame clears per-round correlation state. Identities and
// join requests persist across map changes.
func (s *EventStore) ResetForNewGame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*VictimSession)
	s.roundWinner, s.roundLoser = nil, nil
	s.matchWinnerSet = false
	s.matchWinner, s.matchLayer = "", ""
}

// identityCache is a plain LRU over container/list.
type identityCache struct {
	cap     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key string
	id  *Identity
}

func newIdentityCache(capacity int) *identityCache {
	return &identityCache{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *identityCache) get(key string) *Identity {
	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).id
}

func (c *identityCache) put(key string, id *Identity) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).id = id
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, id: id})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *identityCache) len() int { return c.order.Len() }
