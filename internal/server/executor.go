package server

import (
	"context"

	"github.com/samber/oops"

	"github.com/CalmProton/SquadScript-sub001/internal/rcon"
	"github.com/CalmProton/SquadScript-sub001/internal/validators"
)

// RconExecutor adapts the RCON engine to the plugin command surface.
type RconExecutor struct {
	engine *rcon.Engine
}

func NewRconExecutor(engine *rcon.Engine) *RconExecutor {
	return &RconExecutor{engine: engine}
}

func (x *RconExecutor) Execute(ctx context.Context, command string) (string, error) {
	return x.engine.Execute(ctx, command)
}

func (x *RconExecutor) Broadcast(ctx context.Context, message string) error {
	return x.engine.Broadcast(ctx, message)
}

func (x *RconExecutor) WarnPlayer(ctx context.Context, eosID, message string) error {
	if err := validators.ValidateEOSID(eosID); err != nil {
		return oops.In("server").With("eos_id", eosID).Wrapf(err, "warn target rejected")
	}
	return x.engine.Warn(ctx, rcon.IDRef(eosID), message)
}

func (x *RconExecutor) KickPlayer(ctx context.Context, eosID, reason string) error {
	if err := validators.ValidateEOSID(eosID); err != nil {
		return oops.In("server").With("eos_id", eosID).Wrapf(err, "kick target rejected")
	}
	return x.engine.Kick(ctx, rcon.IDRef(eosID), reason)
}

// StaticAdminSource serves an admin set fixed at configuration time.
type StaticAdminSource struct {
	admins map[string]bool
}

func NewStaticAdminSource(eosIDs []string) *StaticAdminSource {
	admins := make(map[string]bool, len(eosIDs))
	for _, id := range eosIDs {
		admins[id] = true
	}
	return &StaticAdminSource{admins: admins}
}

func (s *StaticAdminSource) Admins(context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(s.admins))
	for id := range s.admins {
		out[id] = true
	}
	return out, nil
}
