package logparser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

// Rule is one pattern in the ordered table. The first rule whose regex
// matches a line wins; onMatch may emit zero or more events and mutate
// the correlation store.
type Rule struct {
	Name    string
	Event   event_manager.EventType
	regex   *regexp.Regexp
	onMatch func(m []string, store *EventStore, emit func(event_manager.EventData))
}

// Every recognized line starts with [timestamp][chain-id].
const linePrefix = `^\[([0-9.:-]+)]\[([ 0-9]*)]`

var ruleLogger = log.With().Str("component", "LogParser").Logger()

// parseLogTime parses the server's YYYY.MM.DD-HH.MM.SS:mmm timestamps
// as UTC.
func parseLogTime(s string) time.Time {
	base := s
	var millis int
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		base = s[:i]
		millis, _ = strconv.Atoi(s[i+1:])
	}
	t, err := time.Parse("2006.01.02-15.04.05", base)
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(millis) * time.Millisecond).UTC()
}

func parseChainID(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

var idPairRe = regexp.MustCompile(`([A-Za-z]+)\s*:\s*([^\s,|\])]+)`)

// parseIDPairs extracts the platform ids from an "EOS: xxx steam: yyy"
// fragment, tolerating reordering, commas, and absent entries.
func parseIDPairs(s string) (eos, steam string) {
	for _, m := range idPairRe.FindAllStringSubmatch(s, -1) {
		switch strings.ToLower(m[1]) {
		case "eos":
			eos = m[2]
		case "steam":
			steam = m[2]
		}
	}
	return eos, steam
}

func parseDamage(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	if v < 0 {
		v = -v
	}
	return v
}

// detectTeamkill reports whether the attacker and victim are on the
// same team but are different players, per the correlation store.
func detectTeamkill(store *EventStore, victimName, attackerEOS string) bool {
	if attackerEOS == "" {
		return false
	}
	victimTeam := store.TeamByName(victimName)
	if victimTeam == 0 {
		return false
	}
	attacker, ok := store.IdentityByEOS(attackerEOS)
	if !ok || attacker.TeamID == 0 || attacker.TeamID != victimTeam {
		return false
	}
	sess := store.Session(victimName)
	if sess == nil || sess.EOSID == "" {
		return false
	}
	return sess.EOSID != attackerEOS
}

// Rules returns the parse table in canonical order: connection,
// possession, combat (damage, wound, died, revived), deployable, game,
// tick rate, admin broadcast. Order is load-bearing: wound and died
// read what the damage rule wrote for the same chain.
func Rules() []Rule {
	return []Rule{
		{
			Name:  "playerConnected",
			Event: event_manager.EventTypeLogPlayerConnected,
			regex: regexp.MustCompile(linePrefix + `LogSquad: PostLogin: NewPlayer: BP_PlayerController_C .+PersistentLevel\.([^\s]+) \(IP: ([\d.]+) \| Online IDs:([^)|]+)\)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				eos, steam := parseIDPairs(m[5])
				if eos == "" && steam == "" {
					return
				}
				chainID := parseChainID(m[2])
				t := parseLogTime(m[1])

				store.AddJoinRequest(chainID, &JoinRequest{
					Time:       t,
					Controller: m[3],
					IPAddress:  m[4],
					EOSID:      eos,
					SteamID:    steam,
				})
				store.UpsertIdentity(eos, Identity{SteamID: steam, Controller: m[3]})

				emit(&event_manager.LogPlayerConnectedData{
					Time:             t,
					ChainID:          chainID,
					PlayerController: m[3],
					IPAddress:        m[4],
					EOSID:            eos,
					SteamID:          steam,
				})
			},
		},
		{
			Name:  "playerDisconnected",
			Event: event_manager.EventTypeLogPlayerDisconnected,
			regex: regexp.MustCompile(linePrefix + `LogNet: UChannel::Close: Sending CloseBunch\. ChIndex == [0-9]+\. Name: \[UChannel\] ChIndex: [0-9]+, Closing: [0-9]+ \[UNetConnection\] RemoteAddr: ([\d.]+):[\d]+, Name: EOSIpNetConnection_[0-9]+, Driver: GameNetDriver EOSNetDriver_[0-9]+, IsServer: YES, PC: ([^ ]+PlayerController_C_[0-9]+), Owner: [^ ]+PlayerController_C_[0-9]+, UniqueId: RedpointEOS:([\d\w]+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				emit(&event_manager.LogPlayerDisconnectedData{
					Time:             parseLogTime(m[1]),
					ChainID:          parseChainID(m[2]),
					IPAddress:        m[3],
					PlayerController: m[4],
					EOSID:            m[5],
				})
			},
		},
		{
			Name:  "joinSucceeded",
			Event: event_manager.EventTypeLogJoinSucceeded,
			regex: regexp.MustCompile(linePrefix + `LogNet: Join succeeded: (.+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				chainID := parseChainID(m[2])
				data := &event_manager.LogJoinSucceededData{
					Time:         parseLogTime(m[1]),
					ChainID:      chainID,
					PlayerSuffix: m[3],
				}
				if req, ok := store.TakeJoinRequest(chainID); ok {
					data.IPAddress = req.IPAddress
					data.EOSID = req.EOSID
					data.SteamID = req.SteamID
					store.UpsertIdentity(req.EOSID, Identity{Name: m[3]})
				}
				emit(data)
			},
		},
		{
			Name:  "playerPossess",
			Event: event_manager.EventTypeLogPlayerPossess,
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQPlayerController::)?OnPossess\(\): PC=(.+) \(Online IDs:([^)]+)\) Pawn=([A-z0-9_]+)_C`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				eos, steam := parseIDPairs(m[4])
				store.UpsertIdentity(eos, Identity{SteamID: steam, Name: m[3]})
				emit(&event_manager.LogPlayerPossessData{
					Time:             parseLogTime(m[1]),
					ChainID:          parseChainID(m[2]),
					PlayerSuffix:     m[3],
					PossessClassname: m[5],
					EOSID:            eos,
					SteamID:          steam,
				})
			},
		},
		{
			Name:  "playerUnpossess",
			Event: event_manager.EventTypeLogPlayerUnpossess,
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQPlayerController::)?OnUnPossess\(\): PC=(.+) \(Online IDs:([^)]+)\)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				eos, steam := parseIDPairs(m[4])
				emit(&event_manager.LogPlayerUnpossessData{
					Time:         parseLogTime(m[1]),
					ChainID:      parseChainID(m[2]),
					PlayerSuffix: m[3],
					EOSID:        eos,
					SteamID:      steam,
				})
			},
		},
		{
			// Side-effect only: feeds team tracking for teamkill
			// detection. The semantic team-change delta comes from the
			// player state service.
			Name:  "teamJoined",
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQPlayerController::)?TeamJoined\(\): Player:(.+) \(Online IDs:([^)]+)\) Is Now On Team ([0-9])`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				name := m[3]
				eos, steam := parseIDPairs(m[4])
				teamID, _ := strconv.Atoi(m[5])
				store.SetTeamByName(name, teamID)
				store.SetSessionEOS(name, eos)
				store.UpsertIdentity(eos, Identity{SteamID: steam, Name: name, TeamID: teamID})
			},
		},
		{
			Name:  "squadJoined",
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQPlayerController::)?SquadJoined\(\): Player:(.+) \(Online IDs:([^)]+)\) Joined Team ([0-9]) Squad ([0-9]+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				name := m[3]
				eos, steam := parseIDPairs(m[4])
				teamID, _ := strconv.Atoi(m[5])
				store.SetTeamByName(name, teamID)
				store.SetSessionEOS(name, eos)
				store.UpsertIdentity(eos, Identity{SteamID: steam, Name: name, TeamID: teamID})
			},
		},
		{
			Name:  "playerDamaged",
			Event: event_manager.EventTypeLogPlayerDamaged,
			regex: regexp.MustCompile(linePrefix + `LogSquad: Player:(.+) ActualDamage=([0-9.]+) from (.+) \(Online IDs:([^|]+)\| Player Controller ID: ([^ ]+)\)caused by ([A-z_0-9-]+)_C`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				if strings.Contains(m[6], "INVALID") {
					ruleLogger.Trace().Str("rule", "playerDamaged").Msg("Skipping line with invalid online ids")
					return
				}
				eos, steam := parseIDPairs(m[6])
				victim := m[3]
				rec := &DamageRecord{
					Time:               parseLogTime(m[1]),
					ChainID:            parseChainID(m[2]),
					Damage:             parseDamage(m[4]),
					Weapon:             m[8],
					AttackerName:       m[5],
					AttackerController: m[7],
					AttackerEOS:        eos,
					AttackerSteam:      steam,
				}
				store.RecordDamage(victim, rec)
				store.UpsertIdentity(eos, Identity{SteamID: steam, Name: m[5], Controller: m[7]})

				emit(&event_manager.LogPlayerDamagedData{
					Time:               rec.Time,
					ChainID:            rec.ChainID,
					VictimName:         victim,
					Damage:             rec.Damage,
					AttackerName:       rec.AttackerName,
					AttackerController: rec.AttackerController,
					AttackerEOS:        eos,
					AttackerSteam:      steam,
					Weapon:             rec.Weapon,
				})
			},
		},
		{
			Name:  "playerWounded",
			Event: event_manager.EventTypeLogPlayerWounded,
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQSoldier::)?Wound\(\): Player:(.+) KillingDamage=(?:-)*([0-9.]+) from ([A-z_0-9]+) \(Online IDs:([^)|]+)\| Controller ID: ([\w\d]+)\) caused by ([A-z_0-9-]+)_C`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				if strings.Contains(m[6], "INVALID") {
					ruleLogger.Trace().Str("rule", "playerWounded").Msg("Skipping line with invalid online ids")
					return
				}
				eos, steam := parseIDPairs(m[6])
				victim := m[3]
				t := parseLogTime(m[1])
				chainID := parseChainID(m[2])

				data := &event_manager.LogPlayerWoundedData{
					Time:               t,
					ChainID:            chainID,
					VictimName:         victim,
					Damage:             parseDamage(m[4]),
					AttackerController: m[5],
					AttackerEOS:        eos,
					AttackerSteam:      steam,
					Weapon:             m[8],
				}
				enrichAttacker(store, victim, &data.AttackerName, &data.AttackerEOS, &data.AttackerSteam)
				if sess := store.Session(victim); sess != nil {
					data.VictimEOS = sess.EOSID
				}
				data.Teamkill = detectTeamkill(store, victim, data.AttackerEOS)

				store.RecordWound(victim, &DamageRecord{
					Time:               t,
					ChainID:            chainID,
					Damage:             data.Damage,
					Weapon:             data.Weapon,
					AttackerName:       data.AttackerName,
					AttackerController: data.AttackerController,
					AttackerEOS:        data.AttackerEOS,
					AttackerSteam:      data.AttackerSteam,
				})

				emit(data)
				if data.Teamkill {
					tk := event_manager.LogTeamkillData{
						Time:               t,
						ChainID:            chainID,
						VictimName:         victim,
						VictimEOS:          data.VictimEOS,
						Damage:             data.Damage,
						AttackerName:       data.AttackerName,
						AttackerController: data.AttackerController,
						AttackerEOS:        data.AttackerEOS,
						AttackerSteam:      data.AttackerSteam,
						Weapon:             data.Weapon,
						Teamkill:           true,
					}
					emit(&tk)
				}
			},
		},
		{
			Name:  "playerDied",
			Event: event_manager.EventTypeLogPlayerDied,
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQSoldier::)?Die\(\): Player:(.+) KillingDamage=(?:-)*([0-9.]+) from ([A-z_0-9]+) \(Online IDs:([^)|]+)\| Contoller ID: ([\w\d]+)\) caused by ([A-z_0-9-]+)_C`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				if strings.Contains(m[6], "INVALID") {
					ruleLogger.Trace().Str("rule", "playerDied").Msg("Skipping line with invalid online ids")
					return
				}
				eos, steam := parseIDPairs(m[6])
				victim := m[3]
				t := parseLogTime(m[1])
				chainID := parseChainID(m[2])

				data := &event_manager.LogPlayerDiedData{
					Time:               t,
					ChainID:            chainID,
					VictimName:         victim,
					Damage:             parseDamage(m[4]),
					AttackerController: m[5],
					AttackerEOS:        eos,
					AttackerSteam:      steam,
					Weapon:             m[8],
				}
				enrichAttacker(store, victim, &data.AttackerName, &data.AttackerEOS, &data.AttackerSteam)
				if sess := store.Session(victim); sess != nil {
					data.VictimEOS = sess.EOSID
					if sess.LastWound != nil {
						data.WoundTime = sess.LastWound.Time
					}
				}
				data.Teamkill = detectTeamkill(store, victim, data.AttackerEOS)

				emit(data)
				if data.Teamkill {
					tk := event_manager.LogTeamkillData(*data)
					emit(&tk)
				}
				store.ClearCombatRecords(victim)
			},
		},
		{
			Name:  "playerRevived",
			Event: event_manager.EventTypeLogPlayerRevived,
			regex: regexp.MustCompile(linePrefix + `LogSquad: (.+) \(Online IDs:([^)]+)\) has revived (.+) \(Online IDs:([^)]+)\)\.`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				reviverEOS, reviverSteam := parseIDPairs(m[4])
				victimEOS, victimSteam := parseIDPairs(m[6])
				victim := m[5]

				store.UpsertIdentity(reviverEOS, Identity{SteamID: reviverSteam, Name: m[3]})
				store.UpsertIdentity(victimEOS, Identity{SteamID: victimSteam, Name: victim})

				emit(&event_manager.LogPlayerRevivedData{
					Time:         parseLogTime(m[1]),
					ChainID:      parseChainID(m[2]),
					ReviverName:  m[3],
					ReviverEOS:   reviverEOS,
					ReviverSteam: reviverSteam,
					VictimName:   victim,
					VictimEOS:    victimEOS,
					VictimSteam:  victimSteam,
				})
				store.ClearCombatRecords(victim)
			},
		},
		{
			Name:  "deployableDamaged",
			Event: event_manager.EventTypeLogDeployableDamaged,
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQDeployable::)?TakeDamage\(\): ([A-z0-9_]+)_C_[0-9]+: ([0-9.]+) damage attempt by causer ([A-z0-9_]+)_C_[0-9]+ instigator (.+) with damage type ([A-z0-9_]+)_C health remaining ([0-9.]+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				health, _ := strconv.ParseFloat(m[8], 64)
				emit(&event_manager.LogDeployableDamagedData{
					Time:            parseLogTime(m[1]),
					ChainID:         parseChainID(m[2]),
					Deployable:      m[3],
					Damage:          parseDamage(m[4]),
					Weapon:          m[5],
					PlayerSuffix:    m[6],
					DamageType:      m[7],
					HealthRemaining: health,
				})
			},
		},
		{
			Name:  "roundWinner",
			Event: event_manager.EventTypeLogRoundWinner,
			regex: regexp.MustCompile(linePrefix + `LogSquadTrace: \[DedicatedServer](?:ASQGameMode::)?DetermineMatchWinner\(\): (.+) won on (.+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				store.SetMatchWinner(m[3], m[4])
				emit(&event_manager.LogRoundWinnerData{
					Time:    parseLogTime(m[1]),
					ChainID: parseChainID(m[2]),
					Winner:  m[3],
					Layer:   m[4],
				})
			},
		},
		{
			Name:  "roundTickets",
			Event: event_manager.EventTypeLogRoundTickets,
			regex: regexp.MustCompile(linePrefix + `LogSquadGameEvents: Display: Team ([0-9]), (.*) \( ?(.*?) ?\) has (won|lost) the match with ([0-9]+) Tickets on layer (.*) \(level (.*)\)!`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				team, _ := strconv.Atoi(m[3])
				tickets, _ := strconv.Atoi(m[7])
				won := m[6] == "won"

				store.SetRoundSide(won, &RoundSide{
					Team:       team,
					Faction:    m[5],
					Subfaction: m[4],
					Tickets:    tickets,
					Layer:      m[8],
					Level:      m[9],
				})

				emit(&event_manager.LogRoundTicketsData{
					Time:       parseLogTime(m[1]),
					ChainID:    parseChainID(m[2]),
					Team:       team,
					Faction:    m[5],
					Subfaction: m[4],
					Action:     m[6],
					Tickets:    tickets,
					Layer:      m[8],
					Level:      m[9],
				})
			},
		},
		{
			Name:  "roundEnded",
			Event: event_manager.EventTypeLogRoundEnded,
			regex: regexp.MustCompile(linePrefix + `LogGameState: Match State Changed from InProgress to WaitingPostMatch`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				winner, loser := store.TakeRoundResult()
				winnerName, winnerLayer, decided := store.TakeMatchWinner()
				data := &event_manager.LogRoundEndedData{Time: parseLogTime(m[1])}
				if winner != nil {
					data.Winner = &event_manager.RoundSideData{
						Team:       winner.Team,
						Faction:    winner.Faction,
						Subfaction: winner.Subfaction,
						Tickets:    winner.Tickets,
					}
					data.Layer = winner.Layer
				}
				if loser != nil {
					data.Loser = &event_manager.RoundSideData{
						Team:       loser.Team,
						Faction:    loser.Faction,
						Subfaction: loser.Subfaction,
						Tickets:    loser.Tickets,
					}
					if data.Layer == "" {
						data.Layer = loser.Layer
					}
				}
				if decided {
					if data.Layer == "" {
						data.Layer = winnerLayer
					}
					// Both teams reporting a win means a draw.
					if winnerName == "" {
						data.Winner = nil
					}
				}
				emit(data)
			},
		},
		{
			Name:  "newGame",
			Event: event_manager.EventTypeLogNewGame,
			regex: regexp.MustCompile(linePrefix + `LogWorld: Bringing World \/([A-z]+)\/(?:Maps\/)?([A-z0-9-]+)\/(?:.+\/)?([A-z0-9-]+)(?:\.[A-z0-9-]+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				if m[5] == "TransitionMap" {
					return
				}
				store.ResetForNewGame()
				emit(&event_manager.LogNewGameData{
					Time:           parseLogTime(m[1]),
					ChainID:        parseChainID(m[2]),
					DLC:            m[3],
					MapClassname:   m[4],
					LayerClassname: m[5],
				})
			},
		},
		{
			Name:  "tickRate",
			Event: event_manager.EventTypeLogTickRate,
			regex: regexp.MustCompile(linePrefix + `LogSquad: USQGameState: Server Tick Rate: ([0-9.]+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				rate, _ := strconv.ParseFloat(m[3], 64)
				emit(&event_manager.LogTickRateData{
					Time:     parseLogTime(m[1]),
					ChainID:  parseChainID(m[2]),
					TickRate: rate,
				})
			},
		},
		{
			Name:  "adminBroadcast",
			Event: event_manager.EventTypeLogAdminBroadcast,
			regex: regexp.MustCompile(linePrefix + `LogSquad: ADMIN COMMAND: Message broadcasted <(.+)> from (.+)`),
			onMatch: func(m []string, store *EventStore, emit func(event_manager.EventData)) {
				emit(&event_manager.LogAdminBroadcastData{
					Time:    parseLogTime(m[1]),
					ChainID: parseChainID(m[2]),
					Message: m[3],
					From:    m[4],
				})
			},
		},
	}
}

// enrichAttacker fills attacker fields from the victim's last-damage
// record and the identity cache when the current line only carries the
// controller side.
func enrichAttacker(store *EventStore, victim string, name, eos, steam *string) {
	sess := store.Session(victim)
	if sess != nil && sess.LastDamage != nil {
		rec := sess.LastDamage
		if *name == "" {
			*name = rec.AttackerName
		}
		if *eos == "" {
			*eos = rec.AttackerEOS
		}
		if *steam == "" {
			*steam = rec.AttackerSteam
		}
	}
	if *eos != "" {
		if id, ok := store.IdentityByEOS(*eos); ok {
			if *name == "" {
				*name = id.Name
			}
			if *steam == "" {
				*steam = id.SteamID
			}
		}
	}
}
