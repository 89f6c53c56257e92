package state

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

// DefaultLayerHistory caps the retained layer history.
const DefaultLayerHistory = 20

// Layer describes one rotation entry. The non-name fields are parsed
// best-effort from the layer name; unrecognized names leave them null.
type Layer struct {
	Name         string      `json:"name"`
	Level        string      `json:"level"`
	GameMode     null.String `json:"gameMode"`
	Version      null.String `json:"version"`
	Team1Faction null.String `json:"team1Faction"`
	Team2Faction null.String `json:"team2Faction"`
	IsNight      bool        `json:"isNight"`
	SizeClass    null.String `json:"sizeClass"`
}

// Layer names follow Level_Mode_vN with optional trailing markers.
var layerNameRe = regexp.MustCompile(`^([A-Za-z0-9]+)_([A-Za-z]+)_(v\d+)(?:_([A-Za-z0-9]+))*$`)

// ParseLayerName splits a layer name into its parts. Parsing never
// fails; an unrecognized name yields only Name and Level.
func ParseLayerName(name, level string) Layer {
	l := Layer{Name: name, Level: level}
	if strings.Contains(strings.ToLower(name), "night") {
		l.IsNight = true
	}
	for _, tok := range strings.Split(name, "_") {
		switch folded := strings.ToLower(tok); folded {
		case "small", "medium", "large":
			l.SizeClass = null.StringFrom(folded)
		}
	}
	m := layerNameRe.FindStringSubmatch(name)
	if m == nil {
		return l
	}
	if l.Level == "" {
		l.Level = m[1]
	}
	l.GameMode = null.StringFrom(m[2])
	l.Version = null.StringFrom(m[3])
	return l
}

func (l *Layer) applyFactions(factions []string) {
	if len(factions) > 0 && factions[0] != "" {
		l.Team1Faction = null.StringFrom(factions[0])
	}
	if len(factions) > 1 && factions[1] != "" {
		l.Team2Faction = null.StringFrom(factions[1])
	}
}

// LayerService tracks the current and next rotation entries plus a
// bounded history of past layers, most recent first.
type LayerService struct {
	mu      sync.RWMutex
	current *Layer
	next    *Layer
	history []Layer
	cap     int

	events *event_manager.EventManager
	logger zerolog.Logger
	now    func() time.Time
}

func NewLayerService(events *event_manager.EventManager, historyCap int) *LayerService {
	if historyCap <= 0 {
		historyCap = DefaultLayerHistory
	}
	return &LayerService{
		cap:    historyCap,
		events: events,
		logger: log.With().Str("component", "LayerService").Logger(),
		now:    time.Now,
	}
}

// SetCurrent applies a ShowCurrentMap result. A changed layer pushes the
// previous one onto the history and emits LAYER_CHANGED. Factions are
// the team 1 / team 2 tags the map response carries, when present.
func (s *LayerService) SetCurrent(level, layerName string, factions []string) {
	s.mu.Lock()
	if s.current != nil && s.current.Name == layerName {
		s.current.applyFactions(factions)
		s.mu.Unlock()
		return
	}

	var oldName string
	if s.current != nil {
		oldName = s.current.Name
		s.history = append([]Layer{*s.current}, s.history...)
		if len(s.history) > s.cap {
			s.history = s.history[:s.cap]
		}
	}
	layer := ParseLayerName(layerName, level)
	layer.applyFactions(factions)
	s.current = &layer
	now := s.now()
	s.mu.Unlock()

	s.logger.Info().Str("oldLayer", oldName).Str("newLayer", layerName).Msg("Layer changed")

	s.events.Publish(&event_manager.LayerChangedData{
		OldLayer:     oldName,
		NewLayer:     layerName,
		Team1Faction: layer.Team1Faction.String,
		Team2Faction: layer.Team2Faction.String,
		Time:         now,
	}, "")
}

// SetNext applies a ShowNextMap result. An undecided rotation entry is
// recorded as no next layer.
func (s *LayerService) SetNext(level, layerName string, factions []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layerName == "" {
		s.next = nil
		return
	}
	layer := ParseLayerName(layerName, level)
	layer.applyFactions(factions)
	s.next = &layer
}

// Current returns the active layer, or false before the first poll.
func (s *LayerService) Current() (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Layer{}, false
	}
	return *s.current, true
}

// Next returns the upcoming layer, or false when undecided.
func (s *LayerService) Next() (Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.next == nil {
		return Layer{}, false
	}
	return *s.next, true
}

// History returns past layers, most recent first.
func (s *LayerService) History() []Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Layer(nil), s.history...)
}
