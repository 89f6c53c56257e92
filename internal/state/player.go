// Package state projects RCON poll results into in-memory snapshots and
// emits semantic delta events when they change.
package state

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon/rconparser"
)

// Player is the tracked view of one connected player. EOS id is the
// stable key; session id may change across a reconnect.
type Player struct {
	EOSID         string    `json:"eosID"`
	SteamID       string    `json:"steamID,omitempty"`
	SessionID     int       `json:"sessionID"`
	Name          string    `json:"name"`
	NameSuffix    string    `json:"nameSuffix,omitempty"`
	Controller    string    `json:"controller,omitempty"`
	TeamID        null.Int  `json:"teamID"`
	SquadID       null.Int  `json:"squadID"`
	IsSquadLeader bool      `json:"isSquadLeader"`
	Role          string    `json:"role,omitempty"`
	IsAdmin       bool      `json:"isAdmin"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`

	missedPolls  int
	disconnected bool
}

// PlayerService reconciles ListPlayers snapshots against the tracked
// set. Removal needs both an observed disconnect and one grace poll of
// absence, so a player briefly missing from a racy list is not churned.
type PlayerService struct {
	mu      sync.RWMutex
	players map[string]*Player

	bySession map[int]string
	bySteam   map[string]string

	events *event_manager.EventManager
	logger zerolog.Logger
	folder cases.Caser
	now    func() time.Time
}

func NewPlayerService(events *event_manager.EventManager) *PlayerService {
	return &PlayerService{
		players:   make(map[string]*Player),
		bySession: make(map[int]string),
		bySteam:   make(map[string]string),
		events:    events,
		logger:    log.With().Str("component", "PlayerService").Logger(),
		folder:    cases.Fold(),
		now:       time.Now,
	}
}

// UpdateFromRcon reconciles one ListPlayers snapshot. Deltas per player
// are emitted in a fixed order: add, then team, squad, role, leader
// changes, then removals. Applying the same snapshot twice emits
// nothing the second time.
func (s *PlayerService) UpdateFromRcon(rows []rconparser.PlayerInfo) {
	now := s.now()
	var deltas []event_manager.EventData

	s.mu.Lock()
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.IDs.EOS == "" {
			continue
		}
		seen[row.IDs.EOS] = true
		p, ok := s.players[row.IDs.EOS]
		if !ok {
			p = &Player{
				EOSID:     row.IDs.EOS,
				FirstSeen: now,
			}
			s.players[row.IDs.EOS] = p
			s.applyRowLocked(p, row, now)
			deltas = append(deltas, &event_manager.PlayerAddedData{
				EOSID:     p.EOSID,
				SteamID:   p.SteamID,
				SessionID: p.SessionID,
				Name:      p.Name,
				TeamID:    p.TeamID,
				SquadID:   p.SquadID,
				Time:      now,
			})
			continue
		}

		oldTeam, oldSquad, oldRole, oldLeader := p.TeamID, p.SquadID, p.Role, p.IsSquadLeader
		s.applyRowLocked(p, row, now)

		if oldTeam != p.TeamID {
			deltas = append(deltas, &event_manager.PlayerTeamChangeData{
				EOSID: p.EOSID, Name: p.Name,
				OldTeamID: oldTeam, NewTeamID: p.TeamID, Time: now,
			})
		}
		if oldSquad != p.SquadID {
			deltas = append(deltas, &event_manager.PlayerSquadChangeData{
				EOSID: p.EOSID, Name: p.Name,
				OldSquadID: oldSquad, NewSquadID: p.SquadID, Time: now,
			})
		}
		if oldRole != p.Role {
			deltas = append(deltas, &event_manager.PlayerRoleChangeData{
				EOSID: p.EOSID, Name: p.Name,
				OldRole: oldRole, NewRole: p.Role, Time: now,
			})
		}
		if oldLeader != p.IsSquadLeader {
			deltas = append(deltas, &event_manager.PlayerLeaderChangeData{
				EOSID: p.EOSID, Name: p.Name,
				IsLeader: p.IsSquadLeader, Time: now,
			})
		}
	}

	for eos, p := range s.players {
		if seen[eos] {
			p.missedPolls = 0
			continue
		}
		p.missedPolls++
		if p.disconnected && p.missedPolls > 1 {
			s.dropIndexLocked(p)
			delete(s.players, eos)
			s.logger.Debug().Str("eosID", eos).Str("name", p.Name).Msg("Player removed after disconnect")
			deltas = append(deltas, &event_manager.PlayerRemovedData{
				EOSID: eos, Name: p.Name, Time: now,
			})
		}
	}
	s.mu.Unlock()

	for _, d := range deltas {
		s.events.Publish(d, "")
	}
}

func (s *PlayerService) applyRowLocked(p *Player, row rconparser.PlayerInfo, now time.Time) {
	if p.SessionID != row.SessionID {
		delete(s.bySession, p.SessionID)
	}
	p.SessionID = row.SessionID
	s.bySession[row.SessionID] = p.EOSID
	if row.IDs.Steam != "" {
		p.SteamID = row.IDs.Steam
		s.bySteam[row.IDs.Steam] = p.EOSID
	}
	p.Name = row.Name
	p.TeamID = row.TeamID
	p.SquadID = row.SquadID
	p.IsSquadLeader = row.IsSquadLeader
	p.Role = row.Role
	p.LastSeen = now
	p.missedPolls = 0
	p.disconnected = false
}

func (s *PlayerService) dropIndexLocked(p *Player) {
	delete(s.bySession, p.SessionID)
	if p.SteamID != "" {
		delete(s.bySteam, p.SteamID)
	}
}

// MarkDisconnected records a disconnect log event for a player. The next
// poll that still misses the player removes them.
func (s *PlayerService) MarkDisconnected(eosID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[eosID]; ok {
		p.disconnected = true
	}
}

// ApplyPossess records the pawn suffix a possess log line carries.
func (s *PlayerService) ApplyPossess(eosID, suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[eosID]; ok {
		p.NameSuffix = suffix
	}
}

// SetAdmins flags the players whose EOS id appears in the admin set.
func (s *PlayerService) SetAdmins(admins map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for eos, p := range s.players {
		p.IsAdmin = admins[eos]
	}
}

// Get returns a copy of the tracked player, or false.
func (s *PlayerService) Get(eosID string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[eosID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// GetBySteamID resolves the platform-id index.
func (s *PlayerService) GetBySteamID(steamID string) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eos, ok := s.bySteam[steamID]
	if !ok {
		return Player{}, false
	}
	p, ok := s.players[eos]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// GetBySessionID resolves the current session-id index.
func (s *PlayerService) GetBySessionID(sessionID int) (Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eos, ok := s.bySession[sessionID]
	if !ok {
		return Player{}, false
	}
	p, ok := s.players[eos]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// FindByName matches tracked players by case-insensitive substring.
func (s *PlayerService) FindByName(query string) []Player {
	folded := s.folder.String(query)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Player
	for _, p := range s.players {
		if strings.Contains(s.folder.String(p.Name), folded) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Players returns a snapshot of all tracked players in name order.
func (s *PlayerService) Players() []Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PlayersOnTeam filters the snapshot by team.
func (s *PlayerService) PlayersOnTeam(teamID int64) []Player {
	var out []Player
	for _, p := range s.Players() {
		if p.TeamID.Valid && p.TeamID.Int64 == teamID {
			out = append(out, p)
		}
	}
	return out
}

// Count reports the tracked player total.
func (s *PlayerService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}
