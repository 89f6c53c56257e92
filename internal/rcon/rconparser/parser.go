// Package rconparser turns RCON response bodies and chat-frame bodies
// into typed values.
package rconparser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/guregu/null/v5"
)

// OnlineIDs holds the identifier pair embedded in player-bearing
// responses. Steam is absent for console players.
type OnlineIDs struct {
	EOS   string
	Steam string
}

// PlayerInfo is one row of a ListPlayers response, in server order.
type PlayerInfo struct {
	SessionID     int
	IDs           OnlineIDs
	Name          string
	TeamID        null.Int
	SquadID       null.Int
	IsSquadLeader bool
	Role          string
}

// SquadInfo is one row of a ListSquads response. TeamID and TeamName
// are inherited from the most recent team header above the row.
type SquadInfo struct {
	TeamID      int
	TeamName    string
	SquadID     int
	Name        string
	Size        int
	Locked      bool
	CreatorName string
	CreatorIDs  OnlineIDs
}

// MapInfo is a ShowCurrentMap / ShowNextMap response. Layer is absent
// when the rotation entry is undecided. Factions holds the team 1 and
// team 2 faction tags when the server reports them.
type MapInfo struct {
	Level    string
	Layer    null.String
	Factions []string
}

// ServerInfo is the typed subset of the ShowServerInfo JSON blob the
// control plane consumes.
type ServerInfo struct {
	ServerName          string
	MaxPlayers          int
	PlayerCount         int
	PublicQueue         int
	ReservedQueue       int
	PublicQueueLimit    int
	PlayerReserveCount  int
	GameMode            string
	MapName             string
	GameVersion         string
	LicensedServer      bool
	IsPasswordProtected bool
	MatchTimeout        int
	Playtime            int
	TeamOne             string
	TeamTwo             string
}

var (
	// Online-id sub-patterns are matched independently so EOS and steam
	// may appear in either order.
	eosIDRe   = regexp.MustCompile(`EOS:\s*([0-9a-f]{32})`)
	steamIDRe = regexp.MustCompile(`steam:\s*(\d{17})`)

	playerRowRe = regexp.MustCompile(`^ID: (\d+) \| Online IDs:([^|]+)\| Name: (.+) \| Team ID: (\d+|N/A) \| Squad ID: (\d+|N/A) \| Is Leader: (True|False) \| Role: (.*)$`)

	teamHeaderRe = regexp.MustCompile(`^Team ID: ([12]) \((.*)\)`)
	squadRowRe   = regexp.MustCompile(`^ID: (\d+) \| Name: (.*?) \| Size: (\d+) \| Locked: (True|False) \| Creator Name: (.*?) \| Creator Online IDs:(.*)$`)

	currentMapRe = regexp.MustCompile(`^Current level is (.*?), layer is (.*?)(?:, factions (\S+) (\S+))?$`)
	nextMapRe    = regexp.MustCompile(`^Next level is (.*?), layer is (.*?)(?:, factions (\S+) (\S+))?$`)
)

func parseOnlineIDs(s string) OnlineIDs {
	var ids OnlineIDs
	if m := eosIDRe.FindStringSubmatch(s); m != nil {
		ids.EOS = m[1]
	}
	if m := steamIDRe.FindStringSubmatch(s); m != nil {
		ids.Steam = m[1]
	}
	return ids
}

func parseNullableInt(s string) null.Int {
	if s == "N/A" {
		return null.Int{}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return null.Int{}
	}
	return null.IntFrom(int64(n))
}

// ParseListPlayers parses a ListPlayers response body. Non-matching
// lines (headers, disconnected-player section) are skipped; returned
// order mirrors server order.
func ParseListPlayers(body string) []PlayerInfo {
	players := []PlayerInfo{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		m := playerRowRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sessionID, _ := strconv.Atoi(m[1])
		players = append(players, PlayerInfo{
			SessionID:     sessionID,
			IDs:           parseOnlineIDs(m[2]),
			Name:          m[3],
			TeamID:        parseNullableInt(m[4]),
			SquadID:       parseNullableInt(m[5]),
			IsSquadLeader: m[6] == "True",
			Role:          m[7],
		})
	}
	return players
}

// ParseListSquads parses a ListSquads response body. Squad rows inherit
// the team header above them; rows before any recognized header are
// discarded.
func ParseListSquads(body string) []SquadInfo {
	squads := []SquadInfo{}
	teamID := 0
	teamName := ""
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := teamHeaderRe.FindStringSubmatch(line); m != nil {
			teamID, _ = strconv.Atoi(m[1])
			teamName = m[2]
			continue
		}

		m := squadRowRe.FindStringSubmatch(line)
		if m == nil || teamID == 0 {
			continue
		}
		squadID, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[3])
		squads = append(squads, SquadInfo{
			TeamID:      teamID,
			TeamName:    teamName,
			SquadID:     squadID,
			Name:        m[2],
			Size:        size,
			Locked:      m[4] == "True",
			CreatorName: m[5],
			CreatorIDs:  parseOnlineIDs(m[6]),
		})
	}
	return squads
}

// ParseCurrentMap parses a ShowCurrentMap response.
func ParseCurrentMap(body string) (MapInfo, bool) {
	m := currentMapRe.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return MapInfo{}, false
	}
	info := MapInfo{Level: m[1], Layer: null.StringFrom(m[2])}
	if m[3] != "" {
		info.Factions = []string{m[3], m[4]}
	}
	return info, true
}

// ParseNextMap parses a ShowNextMap response. An empty or "To be voted"
// layer maps to absent.
func ParseNextMap(body string) (MapInfo, bool) {
	m := nextMapRe.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return MapInfo{}, false
	}
	info := MapInfo{Level: m[1]}
	if layer := m[2]; layer != "" && layer != "To be voted" {
		info.Layer = null.StringFrom(layer)
	}
	if m[3] != "" {
		info.Factions = []string{m[3], m[4]}
	}
	return info, true
}

// ParseServerInfo decodes the ShowServerInfo JSON blob. Server builds
// suffix field names by type (_I int-as-string, _b bool, _s string) and
// are inconsistent about whether numerics arrive as strings.
func ParseServerInfo(body string) (ServerInfo, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return ServerInfo{}, err
	}

	intAt := func(key string) int {
		switch v := raw[key].(type) {
		case string:
			n, _ := strconv.Atoi(v)
			return n
		case float64:
			return int(v)
		}
		return 0
	}
	boolAt := func(key string) bool {
		switch v := raw[key].(type) {
		case bool:
			return v
		case string:
			return v == "true" || v == "True" || v == "1"
		}
		return false
	}
	strAt := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}

	return ServerInfo{
		ServerName:          strAt("ServerName_s"),
		MaxPlayers:          intAt("MaxPlayers"),
		PlayerCount:         intAt("PlayerCount_I"),
		PublicQueue:         intAt("PublicQueue_I"),
		ReservedQueue:       intAt("ReservedQueue_I"),
		PublicQueueLimit:    intAt("PublicQueueLimit_I"),
		PlayerReserveCount:  intAt("PlayerReserveCount_I"),
		GameMode:            strAt("GameMode_s"),
		MapName:             strAt("MapName_s"),
		GameVersion:         strAt("GameVersion_s"),
		LicensedServer:      boolAt("LICENSEDSERVER_b"),
		IsPasswordProtected: boolAt("Password_b"),
		MatchTimeout:        intAt("MatchTimeout_d"),
		Playtime:            intAt("PLAYTIME_I"),
		TeamOne:             strAt("TeamOne_s"),
		TeamTwo:             strAt("TeamTwo_s"),
	}, nil
}
