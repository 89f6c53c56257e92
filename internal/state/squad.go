package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon/rconparser"
)

// SquadKey identifies a squad; squad ids are only unique within a team.
type SquadKey struct {
	TeamID  int
	SquadID int
}

// Squad is the tracked view of one squad.
type Squad struct {
	TeamID      int       `json:"teamID"`
	TeamName    string    `json:"teamName"`
	SquadID     int       `json:"squadID"`
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	Locked      bool      `json:"locked"`
	CreatorName string    `json:"creatorName,omitempty"`
	CreatorEOS  string    `json:"creatorEos,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SquadService reconciles ListSquads snapshots, emitting added, updated
// and disbanded deltas and keeping a creator index coherent.
type SquadService struct {
	mu        sync.RWMutex
	squads    map[SquadKey]*Squad
	byCreator map[string]map[SquadKey]bool

	events *event_manager.EventManager
	logger zerolog.Logger
	now    func() time.Time
}

func NewSquadService(events *event_manager.EventManager) *SquadService {
	return &SquadService{
		squads:    make(map[SquadKey]*Squad),
		byCreator: make(map[string]map[SquadKey]bool),
		events:    events,
		logger:    log.With().Str("component", "SquadService").Logger(),
		now:       time.Now,
	}
}

// UpdateFromRcon reconciles one ListSquads snapshot. Idempotent for an
// unchanged snapshot.
func (s *SquadService) UpdateFromRcon(rows []rconparser.SquadInfo) {
	now := s.now()
	var deltas []event_manager.EventData

	s.mu.Lock()
	seen := make(map[SquadKey]bool, len(rows))
	for _, row := range rows {
		key := SquadKey{TeamID: row.TeamID, SquadID: row.SquadID}
		seen[key] = true

		sq, ok := s.squads[key]
		if !ok {
			sq = &Squad{
				TeamID:    row.TeamID,
				SquadID:   row.SquadID,
				CreatedAt: now,
			}
			s.squads[key] = sq
			s.applyRowLocked(sq, key, row)
			deltas = append(deltas, s.deltaLocked(event_manager.EventTypeSquadAdded, sq, now))
			continue
		}

		changed := sq.Name != row.Name || sq.Size != row.Size || sq.Locked != row.Locked ||
			sq.CreatorName != row.CreatorName || sq.CreatorEOS != row.CreatorIDs.EOS ||
			sq.TeamName != row.TeamName
		s.applyRowLocked(sq, key, row)
		if changed {
			deltas = append(deltas, s.deltaLocked(event_manager.EventTypeSquadUpdated, sq, now))
		}
	}

	for key, sq := range s.squads {
		if seen[key] {
			continue
		}
		s.dropCreatorLocked(sq.CreatorEOS, key)
		delete(s.squads, key)
		s.logger.Debug().Int("teamID", key.TeamID).Int("squadID", key.SquadID).Msg("Squad disbanded")
		deltas = append(deltas, s.deltaLocked(event_manager.EventTypeSquadDisbanded, sq, now))
	}
	s.mu.Unlock()

	for _, d := range deltas {
		s.events.Publish(d, "")
	}
}

func (s *SquadService) applyRowLocked(sq *Squad, key SquadKey, row rconparser.SquadInfo) {
	if sq.CreatorEOS != row.CreatorIDs.EOS {
		s.dropCreatorLocked(sq.CreatorEOS, key)
	}
	sq.TeamName = row.TeamName
	sq.Name = row.Name
	sq.Size = row.Size
	sq.Locked = row.Locked
	sq.CreatorName = row.CreatorName
	sq.CreatorEOS = row.CreatorIDs.EOS
	if sq.CreatorEOS != "" {
		set, ok := s.byCreator[sq.CreatorEOS]
		if !ok {
			set = make(map[SquadKey]bool)
			s.byCreator[sq.CreatorEOS] = set
		}
		set[key] = true
	}
}

func (s *SquadService) dropCreatorLocked(creatorEOS string, key SquadKey) {
	if creatorEOS == "" {
		return
	}
	if set, ok := s.byCreator[creatorEOS]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.byCreator, creatorEOS)
		}
	}
}

func (s *SquadService) deltaLocked(kind event_manager.EventType, sq *Squad, now time.Time) event_manager.EventData {
	d := event_manager.NewSquadDeltaData(kind)
	d.TeamID = sq.TeamID
	d.SquadID = sq.SquadID
	d.Name = sq.Name
	d.Size = sq.Size
	d.Locked = sq.Locked
	d.CreatorName = sq.CreatorName
	d.CreatorEOS = sq.CreatorEOS
	d.Time = now
	return d
}

// Get returns a copy of the tracked squad, or false.
func (s *SquadService) Get(key SquadKey) (Squad, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sq, ok := s.squads[key]
	if !ok {
		return Squad{}, false
	}
	return *sq, true
}

// SquadsByCreator lists the squads a player created, team order first.
func (s *SquadService) SquadsByCreator(creatorEOS string) []Squad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Squad
	for key := range s.byCreator[creatorEOS] {
		if sq, ok := s.squads[key]; ok {
			out = append(out, *sq)
		}
	}
	sortSquads(out)
	return out
}

// Squads returns a snapshot of all tracked squads.
func (s *SquadService) Squads() []Squad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Squad, 0, len(s.squads))
	for _, sq := range s.squads {
		out = append(out, *sq)
	}
	sortSquads(out)
	return out
}

// SquadsOnTeam filters the snapshot by team.
func (s *SquadService) SquadsOnTeam(teamID int) []Squad {
	var out []Squad
	for _, sq := range s.Squads() {
		if sq.TeamID == teamID {
			out = append(out, sq)
		}
	}
	return out
}

// Count reports the tracked squad total.
func (s *SquadService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.squads)
}

func sortSquads(squads []Squad) {
	sort.Slice(squads, func(i, j int) bool {
		if squads[i].TeamID != squads[j].TeamID {
			return squads[i].TeamID < squads[j].TeamID
		}
		return squads[i].SquadID < squads[j].SquadID
	})
}
