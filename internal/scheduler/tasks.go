package scheduler

import (
	"context"
	"time"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
	"github.com/CalmProton/SquadScript-sub001/internal/rcon/rconparser"
	"github.com/CalmProton/SquadScript-sub001/internal/state"
)

// Default task cadences.
const (
	PollInterval      = 30 * time.Second
	AdminListInterval = 300 * time.Second
)

// Commander is the slice of the RCON surface the poll tasks need.
type Commander interface {
	ListPlayers(ctx context.Context) ([]rconparser.PlayerInfo, error)
	ListSquads(ctx context.Context) ([]rconparser.SquadInfo, error)
	ShowCurrentMap(ctx context.Context) (rconparser.MapInfo, error)
	ShowNextMap(ctx context.Context) (rconparser.MapInfo, error)
	ShowServerInfo(ctx context.Context) (rconparser.ServerInfo, error)
}

// AdminSource yields the current admin set keyed by EOS id.
type AdminSource interface {
	Admins(ctx context.Context) (map[string]bool, error)
}

// Deps carries everything the default tasks touch. AdminSource may be
// nil, which disables the adminList task.
type Deps struct {
	Commander Commander
	Players   *state.PlayerService
	Squads    *state.SquadService
	Layers    *state.LayerService
	Events    *event_manager.EventManager
	Admins    AdminSource
}

// RegisterDefaults installs the standard poll task set: playerList,
// squadList, layerInfo and serverInfo every 30 s, adminList every 300 s.
func RegisterDefaults(s *Scheduler, deps Deps) {
	s.Register("playerList", PollInterval, true, func(ctx context.Context) error {
		rows, err := deps.Commander.ListPlayers(ctx)
		if err != nil {
			return err
		}
		deps.Players.UpdateFromRcon(rows)
		return nil
	})

	s.Register("squadList", PollInterval, true, func(ctx context.Context) error {
		rows, err := deps.Commander.ListSquads(ctx)
		if err != nil {
			return err
		}
		deps.Squads.UpdateFromRcon(rows)
		return nil
	})

	s.Register("layerInfo", PollInterval, true, func(ctx context.Context) error {
		current, err := deps.Commander.ShowCurrentMap(ctx)
		if err != nil {
			return err
		}
		deps.Layers.SetCurrent(current.Level, current.Layer.String, current.Factions)

		next, err := deps.Commander.ShowNextMap(ctx)
		if err != nil {
			return err
		}
		deps.Layers.SetNext(next.Level, next.Layer.String, next.Factions)
		return nil
	})

	s.Register("serverInfo", PollInterval, true, func(ctx context.Context) error {
		info, err := deps.Commander.ShowServerInfo(ctx)
		if err != nil {
			return err
		}
		deps.Events.Publish(&event_manager.RconServerInfoData{
			Time:          time.Now(),
			ServerName:    info.ServerName,
			MaxPlayers:    info.MaxPlayers,
			PlayerCount:   info.PlayerCount,
			PublicQueue:   info.PublicQueue,
			ReservedQueue: info.ReservedQueue,
		}, "")
		return nil
	})

	s.Register("adminList", AdminListInterval, deps.Admins != nil, func(ctx context.Context) error {
		admins, err := deps.Admins.Admins(ctx)
		if err != nil {
			return err
		}
		deps.Players.SetAdmins(admins)
		return nil
	})
}
