package rconparser

import (
	"regexp"
	"strconv"
	"time"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

var (
	chatMessageRe      = regexp.MustCompile(`^\[(ChatAll|ChatTeam|ChatSquad|ChatAdmin)] \[Online IDs:([^\]]+)] (.+?) : (.*)$`)
	cameraPossessRe    = regexp.MustCompile(`^(.+) \(Online IDs:([^)]+)\) has possessed admin camera\.$`)
	cameraUnpossessRe  = regexp.MustCompile(`^(.+) \(Online IDs:([^)]+)\) has unpossessed admin camera\.$`)
	playerWarnedRe     = regexp.MustCompile(`^Remote admin has warned player (.*)\. Message was "(.*)"\.?$`)
	playerKickedRe     = regexp.MustCompile(`^Kicked player (\d+)\. \[Online IDs=([^\]]+)] (.*)$`)
	playerBannedRe     = regexp.MustCompile(`^Banned player (\d+)\. \[steamid=(.*?)\] (.*) for interval (.*)$`)
	squadCreatedChatRe = regexp.MustCompile(`^(.+) \(Online IDs:([^)]+)\) has created Squad (\d+) \(Squad Name: (.+)\) on (.+)$`)
)

// ParseChatBody classifies an unsolicited chat-frame body into a typed
// event payload. Returns false for bodies outside the recognized set;
// callers log those at trace and move on.
func ParseChatBody(body string, observed time.Time) (event_manager.EventData, bool) {
	if m := chatMessageRe.FindStringSubmatch(body); m != nil {
		ids := parseOnlineIDs(m[2])
		return &event_manager.RconChatMessageData{
			Time:       observed,
			ChatType:   m[1],
			PlayerName: m[3],
			EOSID:      ids.EOS,
			SteamID:    ids.Steam,
			Message:    m[4],
		}, true
	}

	if m := cameraPossessRe.FindStringSubmatch(body); m != nil {
		ids := parseOnlineIDs(m[2])
		return &event_manager.RconAdminCameraData{
			Time:      observed,
			AdminName: m[1],
			EOSID:     ids.EOS,
			SteamID:   ids.Steam,
			Entered:   true,
		}, true
	}

	if m := cameraUnpossessRe.FindStringSubmatch(body); m != nil {
		ids := parseOnlineIDs(m[2])
		return &event_manager.RconAdminCameraData{
			Time:      observed,
			AdminName: m[1],
			EOSID:     ids.EOS,
			SteamID:   ids.Steam,
			Entered:   false,
		}, true
	}

	if m := playerWarnedRe.FindStringSubmatch(body); m != nil {
		return &event_manager.RconPlayerWarnedData{
			Time:       observed,
			PlayerName: m[1],
			Message:    m[2],
		}, true
	}

	if m := playerKickedRe.FindStringSubmatch(body); m != nil {
		id, _ := strconv.Atoi(m[1])
		ids := parseOnlineIDs(m[2])
		return &event_manager.RconPlayerKickedData{
			Time:       observed,
			PlayerID:   id,
			PlayerName: m[3],
			EOSID:      ids.EOS,
			SteamID:    ids.Steam,
		}, true
	}

	if m := playerBannedRe.FindStringSubmatch(body); m != nil {
		id, _ := strconv.Atoi(m[1])
		return &event_manager.RconPlayerBannedData{
			Time:       observed,
			PlayerID:   id,
			PlayerName: m[3],
			SteamID:    m[2],
			Interval:   m[4],
		}, true
	}

	if m := squadCreatedChatRe.FindStringSubmatch(body); m != nil {
		squadID, _ := strconv.Atoi(m[3])
		ids := parseOnlineIDs(m[2])
		return &event_manager.RconSquadCreatedData{
			Time:       observed,
			PlayerName: m[1],
			EOSID:      ids.EOS,
			SteamID:    ids.Steam,
			SquadID:    squadID,
			SquadName:  m[4],
			TeamName:   m[5],
		}, true
	}

	return nil, false
}
