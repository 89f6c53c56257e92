package state

import (
	"fmt"
	"testing"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

func TestParseLayerName(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		gameMode string
		version  string
		night    bool
	}{
		{"Yehorivka_RAAS_v1", "Yehorivka", "RAAS", "v1", false},
		{"Narva_Invasion_v2", "Narva", "Invasion", "v2", false},
		{"Chora_AAS_v1_Night", "Chora", "AAS", "v1", true},
	}
	for _, tt := range tests {
		l := ParseLayerName(tt.name, "")
		if l.GameMode.String != tt.gameMode || l.Version.String != tt.version || l.IsNight != tt.night {
			t.Errorf("ParseLayerName(%q) = %+v", tt.name, l)
		}
		if l.Level != tt.level {
			t.Errorf("ParseLayerName(%q) level = %q, want %q", tt.name, l.Level, tt.level)
		}
	}

	// Unrecognized shapes still produce a usable layer.
	l := ParseLayerName("Jensen's Range v4", "JensensRange")
	if l.Name != "Jensen's Range v4" || l.Level != "JensensRange" {
		t.Errorf("fallback layer = %+v", l)
	}
	if l.GameMode.Valid || l.Version.Valid {
		t.Errorf("unparseable name produced mode/version: %+v", l)
	}
}

func TestLayerFactionsAndSizeClass(t *testing.T) {
	em := event_manager.NewEventManager()
	got := collectEvents(t, em, event_manager.EventTypeLayerChanged)
	s := NewLayerService(em, 0)

	s.SetCurrent("Gorodok", "Gorodok_RAAS_v1_Large", []string{"USA", "RGF"})
	current, ok := s.Current()
	if !ok {
		t.Fatal("no current layer")
	}
	if current.Team1Faction.String != "USA" || current.Team2Faction.String != "RGF" {
		t.Errorf("factions = %q/%q", current.Team1Faction.String, current.Team2Faction.String)
	}
	if current.SizeClass.String != "large" {
		t.Errorf("size class = %+v", current.SizeClass)
	}

	ld := (*got)[0].Data.(*event_manager.LayerChangedData)
	if ld.Team1Faction != "USA" || ld.Team2Faction != "RGF" {
		t.Errorf("layer change factions = %+v", ld)
	}

	// Factions often arrive a poll after the layer itself.
	s.SetCurrent("Gorodok", "Gorodok_RAAS_v1_Large", []string{"CAF", "INS"})
	if len(*got) != 1 {
		t.Fatalf("unchanged layer emitted an event")
	}
	current, _ = s.Current()
	if current.Team1Faction.String != "CAF" || current.Team2Faction.String != "INS" {
		t.Errorf("refreshed factions = %q/%q", current.Team1Faction.String, current.Team2Faction.String)
	}

	s.SetNext("Narva", "Narva_AAS_v2", []string{"MEA", "PLA"})
	next, ok := s.Next()
	if !ok || next.Team1Faction.String != "MEA" || next.Team2Faction.String != "PLA" {
		t.Errorf("next = %+v ok=%v", next, ok)
	}
}

func TestLayerChangeEmitsAndKeepsHistory(t *testing.T) {
	em := event_manager.NewEventManager()
	got := collectEvents(t, em, event_manager.EventTypeLayerChanged)
	s := NewLayerService(em, 0)

	s.SetCurrent("Yehorivka", "Yehorivka_RAAS_v1", nil)
	if len(*got) != 1 {
		t.Fatalf("events = %d, want 1 for the first layer", len(*got))
	}

	// Re-polling the same layer is silent.
	s.SetCurrent("Yehorivka", "Yehorivka_RAAS_v1", nil)
	if len(*got) != 1 {
		t.Fatalf("unchanged layer emitted an event")
	}

	s.SetCurrent("Narva", "Narva_AAS_v2", nil)
	if len(*got) != 2 {
		t.Fatalf("events = %d, want 2", len(*got))
	}
	ld := (*got)[1].Data.(*event_manager.LayerChangedData)
	if ld.OldLayer != "Yehorivka_RAAS_v1" || ld.NewLayer != "Narva_AAS_v2" {
		t.Errorf("layer change = %+v", ld)
	}

	history := s.History()
	if len(history) != 1 || history[0].Name != "Yehorivka_RAAS_v1" {
		t.Errorf("history = %+v", history)
	}
}

func TestLayerHistoryCap(t *testing.T) {
	em := event_manager.NewEventManager()
	s := NewLayerService(em, 3)

	for i := 0; i < 6; i++ {
		s.SetCurrent("Narva", fmt.Sprintf("Narva_AAS_v%d", i), nil)
	}

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Most recent first.
	for i, want := range []string{"Narva_AAS_v4", "Narva_AAS_v3", "Narva_AAS_v2"} {
		if history[i].Name != want {
			t.Errorf("history[%d] = %q, want %q", i, history[i].Name, want)
		}
	}
}

func TestNextLayerUndecided(t *testing.T) {
	em := event_manager.NewEventManager()
	s := NewLayerService(em, 0)

	s.SetNext("Narva", "Narva_Invasion_v2", nil)
	if next, ok := s.Next(); !ok || next.Name != "Narva_Invasion_v2" {
		t.Errorf("Next = %+v, %v", next, ok)
	}

	s.SetNext("", "", nil)
	if _, ok := s.Next(); ok {
		t.Error("undecided next layer still present")
	}
}
