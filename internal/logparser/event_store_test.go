package logparser

import (
	"fmt"
	"testing"
	"time"
)

func TestClearCombatRecordsKeepsIdentity(t *testing.T) {
	s := NewEventStore()
	s.SetTeamByName("Bob", 1)
	s.SetSessionEOS("Bob", "aaaa0000aaaa0000aaaa0000aaaa0000")
	s.RecordDamage("Bob", &DamageRecord{Time: time.Now(), Damage: 40})
	s.RecordWound("Bob", &DamageRecord{Time: time.Now(), Damage: 40})

	s.ClearCombatRecords("Bob")

	sess := s.Session("Bob")
	if sess == nil {
		t.Fatal("session removed entirely")
	}
	if sess.LastDamage != nil || sess.LastWound != nil {
		t.Error("combat records survived clear")
	}
	if sess.TeamID != 1 || sess.EOSID == "" {
		t.Error("team or EOS id lost on clear")
	}
}

func TestMatchWinnerDoubleFireIsDraw(t *testing.T) {
	s := NewEventStore()
	s.SetMatchWinner("Team 1", "Narva_AAS_v1")
	s.SetMatchWinner("Team 2", "Narva_AAS_v1")

	winner, layer, ok := s.TakeMatchWinner()
	if !ok {
		t.Fatal("winner slot empty after double fire")
	}
	if winner != "" {
		t.Errorf("winner = %q, want empty for a draw", winner)
	}
	if layer != "Narva_AAS_v1" {
		t.Errorf("layer = %q, want Narva_AAS_v1", layer)
	}

	if _, _, ok := s.TakeMatchWinner(); ok {
		t.Error("winner slot not consumed by take")
	}
}

func TestTakeJoinRequestConsumes(t *testing.T) {
	s := NewEventStore()
	s.AddJoinRequest(7, &JoinRequest{IPAddress: "10.0.0.1"})

	req, ok := s.TakeJoinRequest(7)
	if !ok || req.IPAddress != "10.0.0.1" {
		t.Fatalf("TakeJoinRequest = %+v, %v", req, ok)
	}
	if _, ok := s.TakeJoinRequest(7); ok {
		t.Error("join request not consumed")
	}
}

func TestResetForNewGameKeepsIdentities(t *testing.T) {
	s := NewEventStore()
	s.UpsertIdentity("bbbb0000bbbb0000bbbb0000bbbb0000", Identity{Name: "Alice", TeamID: 2})
	s.AddJoinRequest(3, &JoinRequest{IPAddress: "10.0.0.2"})
	s.SetTeamByName("Bob", 1)
	s.SetRoundSide(true, &RoundSide{Team: 1, Tickets: 100})
	s.SetMatchWinner("Team 1", "Narva_AAS_v1")

	s.ResetForNewGame()

	if s.Session("Bob") != nil {
		t.Error("victim session survived new game")
	}
	if w, l := s.TakeRoundResult(); w != nil || l != nil {
		t.Error("round sides survived new game")
	}
	if _, _, ok := s.TakeMatchWinner(); ok {
		t.Error("match winner survived new game")
	}
	if _, ok := s.IdentityByEOS("bbbb0000bbbb0000bbbb0000bbbb0000"); !ok {
		t.Error("identity dropped on new game")
	}
	if _, ok := s.TakeJoinRequest(3); !ok {
		t.Error("join request dropped on new game")
	}
}

func TestUpsertIdentityMergesFields(t *testing.T) {
	s := NewEventStore()
	eos := "cccc0000cccc0000cccc0000cccc0000"
	s.UpsertIdentity(eos, Identity{Name: "Alice"})
	s.UpsertIdentity(eos, Identity{SteamID: "76561198000000001"})
	s.UpsertIdentity(eos, Identity{TeamID: 2})

	id, ok := s.IdentityByEOS(eos)
	if !ok {
		t.Fatal("identity missing")
	}
	if id.Name != "Alice" || id.SteamID != "76561198000000001" || id.TeamID != 2 {
		t.Errorf("merged identity = %+v", id)
	}
}

func TestIdentityCacheEvictsLeastRecentlyUsed(t *testing.T) {
	s := NewEventStore()
	key := func(i int) string { return fmt.Sprintf("%032x", i) }

	for i := 0; i < IdentityCacheSize; i++ {
		s.UpsertIdentity(key(i), Identity{Name: fmt.Sprintf("p%d", i)})
	}
	// Touching the oldest entry promotes it past the next eviction.
	if _, ok := s.IdentityByEOS(key(0)); !ok {
		t.Fatal("entry 0 missing before eviction")
	}
	s.UpsertIdentity(key(IdentityCacheSize), Identity{Name: "newest"})

	if _, ok := s.IdentityByEOS(key(0)); !ok {
		t.Error("recently touched entry evicted")
	}
	if _, ok := s.IdentityByEOS(key(1)); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := s.IdentityByEOS(key(IdentityCacheSize)); !ok {
		t.Error("newest entry missing")
	}
}
