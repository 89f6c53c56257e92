package rcon

import (
	"context"
	"fmt"
	"strings"

	"github.com/CalmProton/SquadScript-sub001/internal/rcon/rconparser"
)

// PlayerRef identifies a player in a command argument: either the
// volatile session id or a durable id (EOS/steam). Session ids are
// serialized as bare decimals, everything else verbatim in quotes.
type PlayerRef struct {
	sessionID int
	id        string
	isSession bool
}

func SessionRef(id int) PlayerRef { return PlayerRef{sessionID: id, isSession: true} }

func IDRef(id string) PlayerRef { return PlayerRef{id: id} }

func (r PlayerRef) String() string {
	if r.isSession {
		return fmt.Sprintf("%d", r.sessionID)
	}
	return fmt.Sprintf("%q", r.id)
}

// sanitizeMessage strips control characters and swaps double quotes for
// single quotes so the message survives the command grammar.
func sanitizeMessage(msg string) string {
	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		switch {
		case r == '"':
			b.WriteRune('\'')
		case r < 0x20 || r == 0x7F:
			// drop control characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Warn sends an admin warning to one player.
func (e *Engine) Warn(ctx context.Context, player PlayerRef, message string) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminWarn %s \"%s\"", player, sanitizeMessage(message)))
	return err
}

// Kick removes a player from the server.
func (e *Engine) Kick(ctx context.Context, player PlayerRef, reason string) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminKick %s \"%s\"", player, sanitizeMessage(reason)))
	return err
}

// Ban bans a player. Interval uses the server's grammar, e.g. "1d", "0"
// for permanent.
func (e *Engine) Ban(ctx context.Context, player PlayerRef, interval, reason string) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminBan %s %s \"%s\"", player, interval, sanitizeMessage(reason)))
	return err
}

// Broadcast sends a server-wide admin message.
func (e *Engine) Broadcast(ctx context.Context, message string) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminBroadcast %s", sanitizeMessage(message)))
	return err
}

// ChangeLayer switches the running match to the given layer.
func (e *Engine) ChangeLayer(ctx context.Context, layer string) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminChangeLayer %s", layer))
	return err
}

// SetNextLayer sets the layer the server rotates to next.
func (e *Engine) SetNextLayer(ctx context.Context, layer string) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminSetNextLayer %s", layer))
	return err
}

// ForceTeamChange moves a player to the other team.
func (e *Engine) ForceTeamChange(ctx context.Context, player PlayerRef) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminForceTeamChange %s", player))
	return err
}

// DisbandSquad disbands a squad identified by team and squad id.
func (e *Engine) DisbandSquad(ctx context.Context, teamID, squadID int) error {
	_, err := e.Execute(ctx, fmt.Sprintf("AdminDisbandSquad %d %d", teamID, squadID))
	return err
}

// EndMatch ends the current match immediately.
func (e *Engine) EndMatch(ctx context.Context) error {
	_, err := e.Execute(ctx, "AdminEndMatch")
	return err
}

// RestartMatch restarts the current match.
func (e *Engine) RestartMatch(ctx context.Context) error {
	_, err := e.Execute(ctx, "AdminRestartMatch")
	return err
}

// ListPlayers fetches and parses the live player list.
func (e *Engine) ListPlayers(ctx context.Context) ([]rconparser.PlayerInfo, error) {
	body, err := e.Execute(ctx, "ListPlayers")
	if err != nil {
		return nil, err
	}
	return rconparser.ParseListPlayers(body), nil
}

// ListSquads fetches and parses the live squad list.
func (e *Engine) ListSquads(ctx context.Context) ([]rconparser.SquadInfo, error) {
	body, err := e.Execute(ctx, "ListSquads")
	if err != nil {
		return nil, err
	}
	return rconparser.ParseListSquads(body), nil
}

// ShowCurrentMap fetches the current level and layer.
func (e *Engine) ShowCurrentMap(ctx context.Context) (rconparser.MapInfo, error) {
	body, err := e.Execute(ctx, "ShowCurrentMap")
	if err != nil {
		return rconparser.MapInfo{}, err
	}
	info, ok := rconparser.ParseCurrentMap(body)
	if !ok {
		return rconparser.MapInfo{}, &UnexpectedFormatError{
			Command:  "ShowCurrentMap",
			Expected: "Current level is <level>, layer is <layer>",
			Actual:   body,
		}
	}
	return info, nil
}

// ShowNextMap fetches the next level and layer; an unset rotation entry
// yields an absent layer.
func (e *Engine) ShowNextMap(ctx context.Context) (rconparser.MapInfo, error) {
	body, err := e.Execute(ctx, "ShowNextMap")
	if err != nil {
		return rconparser.MapInfo{}, err
	}
	info, ok := rconparser.ParseNextMap(body)
	if !ok {
		return rconparser.MapInfo{}, &UnexpectedFormatError{
			Command:  "ShowNextMap",
			Expected: "Next level is <level>, layer is <layer>",
			Actual:   body,
		}
	}
	return info, nil
}

// ShowServerInfo fetches and parses the server info JSON blob.
func (e *Engine) ShowServerInfo(ctx context.Context) (rconparser.ServerInfo, error) {
	body, err := e.Execute(ctx, "ShowServerInfo")
	if err != nil {
		return rconparser.ServerInfo{}, err
	}
	info, perr := rconparser.ParseServerInfo(body)
	if perr != nil {
		return rconparser.ServerInfo{}, &UnexpectedFormatError{
			Command:  "ShowServerInfo",
			Expected: "server info JSON",
			Actual:   body,
		}
	}
	return info, nil
}
