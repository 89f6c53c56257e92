package event_manager

import (
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
)

// EventType identifies a kind of event flowing through the manager.
type EventType string

const (
	// Log-derived player lifecycle events.
	EventTypeLogPlayerConnected    EventType = "PLAYER_CONNECTED"
	EventTypeLogPlayerDisconnected EventType = "PLAYER_DISCONNECTED"
	EventTypeLogJoinSucceeded      EventType = "JOIN_SUCCEEDED"
	EventTypeLogPlayerPossess      EventType = "PLAYER_POSSESS"
	EventTypeLogPlayerUnpossess    EventType = "PLAYER_UNPOSSESS"

	// Log-derived combat events.
	EventTypeLogPlayerDamaged     EventType = "PLAYER_DAMAGED"
	EventTypeLogPlayerWounded     EventType = "PLAYER_WOUNDED"
	EventTypeLogPlayerDied        EventType = "PLAYER_DIED"
	EventTypeLogPlayerRevived     EventType = "PLAYER_REVIVED"
	EventTypeLogTeamkill          EventType = "TEAMKILL"
	EventTypeLogDeployableDamaged EventType = "DEPLOYABLE_DAMAGED"

	// Log-derived game events.
	EventTypeLogNewGame      EventType = "NEW_GAME"
	EventTypeLogRoundWinner  EventType = "ROUND_WINNER"
	EventTypeLogRoundTickets EventType = "ROUND_TICKETS"
	EventTypeLogRoundEnded   EventType = "ROUND_ENDED"
	EventTypeLogTickRate     EventType = "TICK_RATE"

	// Admin events (log broadcast plus RCON chat frames).
	EventTypeLogAdminBroadcast          EventType = "ADMIN_BROADCAST"
	EventTypeRconChatMessage            EventType = "CHAT_MESSAGE"
	EventTypeRconAdminCameraPossessed   EventType = "POSSESSED_ADMIN_CAMERA"
	EventTypeRconAdminCameraUnpossessed EventType = "UNPOSSESSED_ADMIN_CAMERA"
	EventTypeRconPlayerWarned           EventType = "PLAYER_WARNED"
	EventTypeRconPlayerKicked           EventType = "PLAYER_KICKED"
	EventTypeRconPlayerBanned           EventType = "PLAYER_BANNED"
	EventTypeRconSquadCreated           EventType = "SQUAD_CREATED"
	EventTypeRconServerInfo             EventType = "SERVER_INFO"

	// RCON transport lifecycle.
	EventTypeRconConnected    EventType = "RCON_CONNECTED"
	EventTypeRconDisconnected EventType = "RCON_DISCONNECTED"
	EventTypeRconError        EventType = "RCON_ERROR"

	// State service deltas.
	EventTypePlayerAdded        EventType = "PLAYER_ADDED"
	EventTypePlayerRemoved      EventType = "PLAYER_REMOVED"
	EventTypePlayerTeamChange   EventType = "PLAYER_TEAM_CHANGE"
	EventTypePlayerSquadChange  EventType = "PLAYER_SQUAD_CHANGE"
	EventTypePlayerRoleChange   EventType = "PLAYER_ROLE_CHANGE"
	EventTypePlayerLeaderChange EventType = "PLAYER_LEADER_CHANGE"
	EventTypeSquadAdded         EventType = "SQUAD_ADDED"
	EventTypeSquadUpdated       EventType = "SQUAD_UPDATED"
	EventTypeSquadDisbanded     EventType = "SQUAD_DISBANDED"
	EventTypeLayerChanged       EventType = "LAYER_CHANGED"

	// Controller lifecycle.
	EventTypeServerStarting EventType = "SERVER_STARTING"
	EventTypeServerReady    EventType = "SERVER_READY"
	EventTypeServerStopping EventType = "SERVER_STOPPING"
	EventTypeServerStopped  EventType = "SERVER_STOPPED"
	EventTypeServerError    EventType = "SERVER_ERROR"

	// Plugin instance lifecycle.
	EventTypePluginStatus EventType = "PLUGIN_STATUS"

	// Raw log lines, forwarded to the push feed only.
	EventTypeRawLog EventType = "RAW_LOG"
)

// Event is a single emission on the bus. Raw carries the source text
// (log line, chat frame body, or command response) for diagnostics.
type Event struct {
	ID        uuid.UUID   `json:"id"`
	Type      EventType   `json:"type"`
	Data      EventData   `json:"data"`
	Raw       string      `json:"raw,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventData is implemented by every typed event payload.
type EventData interface {
	GetEventType() EventType
}

// Log-derived payloads. Time is the wall-clock timestamp parsed from the
// log line; ChainID correlates records caused by one in-game action.

type LogPlayerConnectedData struct {
	Time             time.Time `json:"time"`
	ChainID          int       `json:"chainID"`
	PlayerController string    `json:"playerController"`
	IPAddress        string    `json:"ipAddress"`
	EOSID            string    `json:"eosID"`
	SteamID          string    `json:"steamID,omitempty"`
}

func (d *LogPlayerConnectedData) GetEventType() EventType { return EventTypeLogPlayerConnected }

type LogPlayerDisconnectedData struct {
	Time             time.Time `json:"time"`
	ChainID          int       `json:"chainID"`
	IPAddress        string    `json:"ipAddress"`
	PlayerController string    `json:"playerController"`
	EOSID            string    `json:"eosID"`
}

func (d *LogPlayerDisconnectedData) GetEventType() EventType { return EventTypeLogPlayerDisconnected }

type LogJoinSucceededData struct {
	Time         time.Time `json:"time"`
	ChainID      int       `json:"chainID"`
	PlayerSuffix string    `json:"playerSuffix"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	EOSID        string    `json:"eosID,omitempty"`
	SteamID      string    `json:"steamID,omitempty"`
}

func (d *LogJoinSucceededData) GetEventType() EventType { return EventTypeLogJoinSucceeded }

type LogPlayerPossessData struct {
	Time             time.Time `json:"time"`
	ChainID          int       `json:"chainID"`
	PlayerSuffix     string    `json:"playerSuffix"`
	PossessClassname string    `json:"possessClassname"`
	EOSID            string    `json:"eosID,omitempty"`
	SteamID          string    `json:"steamID,omitempty"`
}

func (d *LogPlayerPossessData) GetEventType() EventType { return EventTypeLogPlayerPossess }

type LogPlayerUnpossessData struct {
	Time         time.Time `json:"time"`
	ChainID      int       `json:"chainID"`
	PlayerSuffix string    `json:"playerSuffix"`
	EOSID        string    `json:"eosID,omitempty"`
	SteamID      string    `json:"steamID,omitempty"`
}

func (d *LogPlayerUnpossessData) GetEventType() EventType { return EventTypeLogPlayerUnpossess }

type LogPlayerDamagedData struct {
	Time               time.Time `json:"time"`
	ChainID            int       `json:"chainID"`
	VictimName         string    `json:"victimName"`
	Damage             float64   `json:"damage"`
	AttackerName       string    `json:"attackerName"`
	AttackerController string    `json:"attackerController"`
	AttackerEOS        string    `json:"attackerEos,omitempty"`
	AttackerSteam      string    `json:"attackerSteam,omitempty"`
	Weapon             string    `json:"weapon"`
}

func (d *LogPlayerDamagedData) GetEventType() EventType { return EventTypeLogPlayerDamaged }

type LogPlayerWoundedData struct {
	Time               time.Time `json:"time"`
	ChainID            int       `json:"chainID"`
	VictimName         string    `json:"victimName"`
	VictimEOS          string    `json:"victimEos,omitempty"`
	Damage             float64   `json:"damage"`
	AttackerName       string    `json:"attackerName,omitempty"`
	AttackerController string    `json:"attackerController"`
	AttackerEOS        string    `json:"attackerEos,omitempty"`
	AttackerSteam      string    `json:"attackerSteam,omitempty"`
	Weapon             string    `json:"weapon"`
	Teamkill           bool      `json:"teamkill,omitempty"`
}

func (d *LogPlayerWoundedData) GetEventType() EventType { return EventTypeLogPlayerWounded }

type LogPlayerDiedData struct {
	Time               time.Time `json:"time"`
	WoundTime          time.Time `json:"woundTime,omitempty"`
	ChainID            int       `json:"chainID"`
	VictimName         string    `json:"victimName"`
	VictimEOS          string    `json:"victimEos,omitempty"`
	Damage             float64   `json:"damage"`
	AttackerName       string    `json:"attackerName,omitempty"`
	AttackerController string    `json:"attackerController"`
	AttackerEOS        string    `json:"attackerEos,omitempty"`
	AttackerSteam      string    `json:"attackerSteam,omitempty"`
	Weapon             string    `json:"weapon"`
	Teamkill           bool      `json:"teamkill,omitempty"`
}

func (d *LogPlayerDiedData) GetEventType() EventType { return EventTypeLogPlayerDied }

type LogPlayerRevivedData struct {
	Time         time.Time `json:"time"`
	ChainID      int       `json:"chainID"`
	ReviverName  string    `json:"reviverName"`
	ReviverEOS   string    `json:"reviverEos,omitempty"`
	ReviverSteam string    `json:"reviverSteam,omitempty"`
	VictimName   string    `json:"victimName"`
	VictimEOS    string    `json:"victimEos,omitempty"`
	VictimSteam  string    `json:"victimSteam,omitempty"`
}

func (d *LogPlayerRevivedData) GetEventType() EventType { return EventTypeLogPlayerRevived }

// LogTeamkillData mirrors the died payload; emitted alongside it when the
// attacker and victim share a team.
type LogTeamkillData LogPlayerDiedData

func (d *LogTeamkillData) GetEventType() EventType { return EventTypeLogTeamkill }

type LogDeployableDamagedData struct {
	Time            time.Time `json:"time"`
	ChainID         int       `json:"chainID"`
	Deployable      string    `json:"deployable"`
	Damage          float64   `json:"damage"`
	Weapon          string    `json:"weapon"`
	PlayerSuffix    string    `json:"playerSuffix"`
	DamageType      string    `json:"damageType"`
	HealthRemaining float64   `json:"healthRemaining"`
}

func (d *LogDeployableDamagedData) GetEventType() EventType { return EventTypeLogDeployableDamaged }

type LogNewGameData struct {
	Time           time.Time `json:"time"`
	ChainID        int       `json:"chainID"`
	DLC            string    `json:"dlc,omitempty"`
	MapClassname   string    `json:"mapClassname,omitempty"`
	LayerClassname string    `json:"layerClassname,omitempty"`
}

func (d *LogNewGameData) GetEventType() EventType { return EventTypeLogNewGame }

// RoundSideData describes one side of a finished round.
type RoundSideData struct {
	Team       int    `json:"team"`
	Faction    string `json:"faction"`
	Subfaction string `json:"subfaction"`
	Tickets    int    `json:"tickets"`
}

type LogRoundWinnerData struct {
	Time    time.Time `json:"time"`
	ChainID int       `json:"chainID"`
	Winner  string    `json:"winner"`
	Layer   string    `json:"layer"`
}

func (d *LogRoundWinnerData) GetEventType() EventType { return EventTypeLogRoundWinner }

type LogRoundTicketsData struct {
	Time       time.Time `json:"time"`
	ChainID    int       `json:"chainID"`
	Team       int       `json:"team"`
	Faction    string    `json:"faction"`
	Subfaction string    `json:"subfaction"`
	Action     string    `json:"action"`
	Tickets    int       `json:"tickets"`
	Layer      string    `json:"layer"`
	Level      string    `json:"level"`
}

func (d *LogRoundTicketsData) GetEventType() EventType { return EventTypeLogRoundTickets }

type LogRoundEndedData struct {
	Time   time.Time      `json:"time"`
	Winner *RoundSideData `json:"winner,omitempty"`
	Loser  *RoundSideData `json:"loser,omitempty"`
	Layer  string         `json:"layer,omitempty"`
}

func (d *LogRoundEndedData) GetEventType() EventType { return EventTypeLogRoundEnded }

type LogTickRateData struct {
	Time     time.Time `json:"time"`
	ChainID  int       `json:"chainID"`
	TickRate float64   `json:"tickRate"`
}

func (d *LogTickRateData) GetEventType() EventType { return EventTypeLogTickRate }

type LogAdminBroadcastData struct {
	Time    time.Time `json:"time"`
	ChainID int       `json:"chainID"`
	Message string    `json:"message"`
	From    string    `json:"from"`
}

func (d *LogAdminBroadcastData) GetEventType() EventType { return EventTypeLogAdminBroadcast }

// Chat-frame payloads.

type RconChatMessageData struct {
	Time       time.Time `json:"time"`
	ChatType   string    `json:"chatType"`
	PlayerName string    `json:"playerName"`
	EOSID      string    `json:"eosID"`
	SteamID    string    `json:"steamID,omitempty"`
	Message    string    `json:"message"`
}

func (d *RconChatMessageData) GetEventType() EventType { return EventTypeRconChatMessage }

type RconAdminCameraData struct {
	Time      time.Time `json:"time"`
	AdminName string    `json:"adminName"`
	EOSID     string    `json:"eosID"`
	SteamID   string    `json:"steamID,omitempty"`
	Entered   bool      `json:"entered"`
}

func (d *RconAdminCameraData) GetEventType() EventType {
	if d.Entered {
		return EventTypeRconAdminCameraPossessed
	}
	return EventTypeRconAdminCameraUnpossessed
}

type RconPlayerWarnedData struct {
	Time       time.Time `json:"time"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
}

func (d *RconPlayerWarnedData) GetEventType() EventType { return EventTypeRconPlayerWarned }

type RconPlayerKickedData struct {
	Time       time.Time `json:"time"`
	PlayerID   int       `json:"playerID"`
	PlayerName string    `json:"playerName"`
	EOSID      string    `json:"eosID,omitempty"`
	SteamID    string    `json:"steamID,omitempty"`
}

func (d *RconPlayerKickedData) GetEventType() EventType { return EventTypeRconPlayerKicked }

type RconPlayerBannedData struct {
	Time       time.Time `json:"time"`
	PlayerID   int       `json:"playerID"`
	PlayerName string    `json:"playerName"`
	SteamID    string    `json:"steamID,omitempty"`
	Interval   string    `json:"interval"`
}

func (d *RconPlayerBannedData) GetEventType() EventType { return EventTypeRconPlayerBanned }

type RconSquadCreatedData struct {
	Time       time.Time `json:"time"`
	PlayerName string    `json:"playerName"`
	EOSID      string    `json:"eosID"`
	SteamID    string    `json:"steamID,omitempty"`
	SquadID    int       `json:"squadID"`
	SquadName  string    `json:"squadName"`
	TeamName   string    `json:"teamName"`
}

func (d *RconSquadCreatedData) GetEventType() EventType { return EventTypeRconSquadCreated }

type RconServerInfoData struct {
	Time          time.Time `json:"time"`
	ServerName    string    `json:"serverName"`
	MaxPlayers    int       `json:"maxPlayers"`
	PlayerCount   int       `json:"playerCount"`
	PublicQueue   int       `json:"publicQueue"`
	ReservedQueue int       `json:"reservedQueue"`
}

func (d *RconServerInfoData) GetEventType() EventType { return EventTypeRconServerInfo }

// RconLifecycleData covers transport connect/disconnect/error.
type RconLifecycleData struct {
	Time   time.Time `json:"time"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	kind   EventType
}

func NewRconLifecycleData(kind EventType, reason string) *RconLifecycleData {
	return &RconLifecycleData{Time: time.Now(), State: string(kind), Reason: reason, kind: kind}
}

func (d *RconLifecycleData) GetEventType() EventType { return d.kind }

// State delta payloads.

type PlayerAddedData struct {
	EOSID     string    `json:"eosID"`
	SteamID   string    `json:"steamID,omitempty"`
	SessionID int       `json:"sessionID"`
	Name      string    `json:"name"`
	TeamID    null.Int  `json:"teamID"`
	SquadID   null.Int  `json:"squadID"`
	Time      time.Time `json:"time"`
}

func (d *PlayerAddedData) GetEventType() EventType { return EventTypePlayerAdded }

type PlayerRemovedData struct {
	EOSID string    `json:"eosID"`
	Name  string    `json:"name"`
	Time  time.Time `json:"time"`
}

func (d *PlayerRemovedData) GetEventType() EventType { return EventTypePlayerRemoved }

type PlayerTeamChangeData struct {
	EOSID     string    `json:"eosID"`
	Name      string    `json:"name"`
	OldTeamID null.Int  `json:"oldTeamID"`
	NewTeamID null.Int  `json:"newTeamID"`
	Time      time.Time `json:"time"`
}

func (d *PlayerTeamChangeData) GetEventType() EventType { return EventTypePlayerTeamChange }

type PlayerSquadChangeData struct {
	EOSID      string    `json:"eosID"`
	Name       string    `json:"name"`
	OldSquadID null.Int  `json:"oldSquadID"`
	NewSquadID null.Int  `json:"newSquadID"`
	Time       time.Time `json:"time"`
}

func (d *PlayerSquadChangeData) GetEventType() EventType { return EventTypePlayerSquadChange }

type PlayerRoleChangeData struct {
	EOSID   string    `json:"eosID"`
	Name    string    `json:"name"`
	OldRole string    `json:"oldRole"`
	NewRole string    `json:"newRole"`
	Time    time.Time `json:"time"`
}

func (d *PlayerRoleChangeData) GetEventType() EventType { return EventTypePlayerRoleChange }

type PlayerLeaderChangeData struct {
	EOSID    string    `json:"eosID"`
	Name     string    `json:"name"`
	IsLeader bool      `json:"isLeader"`
	Time     time.Time `json:"time"`
}

func (d *PlayerLeaderChangeData) GetEventType() EventType { return EventTypePlayerLeaderChange }

type SquadDeltaData struct {
	TeamID      int       `json:"teamID"`
	SquadID     int       `json:"squadID"`
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	Locked      bool      `json:"locked"`
	CreatorName string    `json:"creatorName,omitempty"`
	CreatorEOS  string    `json:"creatorEos,omitempty"`
	Time        time.Time `json:"time"`
	kind        EventType
}

func NewSquadDeltaData(kind EventType) *SquadDeltaData { return &SquadDeltaData{kind: kind} }

func (d *SquadDeltaData) GetEventType() EventType { return d.kind }

type LayerChangedData struct {
	OldLayer     string    `json:"oldLayer,omitempty"`
	NewLayer     string    `json:"newLayer"`
	Team1Faction string    `json:"team1Faction,omitempty"`
	Team2Faction string    `json:"team2Faction,omitempty"`
	Time         time.Time `json:"time"`
}

func (d *LayerChangedData) GetEventType() EventType { return EventTypeLayerChanged }

// ServerLifecycleData covers controller state transitions.
type ServerLifecycleData struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason,omitempty"`
	kind   EventType
}

func NewServerLifecycleData(kind EventType, reason string) *ServerLifecycleData {
	return &ServerLifecycleData{Time: time.Now(), Reason: reason, kind: kind}
}

func (d *ServerLifecycleData) GetEventType() EventType { return d.kind }

// PluginStatusData reports one plugin instance lifecycle transition.
type PluginStatusData struct {
	Time   time.Time `json:"time"`
	Plugin string    `json:"plugin"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
}

func (d *PluginStatusData) GetEventType() EventType { return EventTypePluginStatus }

// RawLogData carries one raw server log line.
type RawLogData struct {
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

func (d *RawLogData) GetEventType() EventType { return EventTypeRawLog }
