// Package validators checks the identifier formats that cross the
// parser and RCON boundaries before they reach state or storage.
package validators

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/leighmacdonald/steamid/v3/steamid"
)

var (
	eosIDPattern      = regexp.MustCompile(`^[0-9a-f]{32}$`)
	steamIDPattern    = regexp.MustCompile(`^[0-9]{17}$`)
	controllerPattern = regexp.MustCompile(`^BP_PlayerController_C_[0-9]+$`)
)

var ErrInvalidSteamID = errors.New("not a valid 64-bit steam id")

// ValidateEOSID checks the 32-char lowercase hex form EOS ids take in
// server logs and RCON output.
func ValidateEOSID(id string) error {
	return validation.Validate(id,
		validation.Required,
		validation.Match(eosIDPattern).Error("must be 32 lowercase hex characters"),
	)
}

// ValidateSteamID checks the 17-digit form and that the value decodes
// to a real 64-bit steam id.
func ValidateSteamID(id string) error {
	if err := validation.Validate(id,
		validation.Required,
		validation.Match(steamIDPattern).Error("must be 17 digits"),
	); err != nil {
		return err
	}
	sid, err := steamid.SID64FromString(id)
	if err != nil || !sid.Valid() {
		return ErrInvalidSteamID
	}
	return nil
}

// ValidateController checks a player controller name as logged by the
// server.
func ValidateController(name string) error {
	return validation.Validate(name,
		validation.Required,
		validation.Match(controllerPattern).Error("must look like BP_PlayerController_C_<n>"),
	)
}

// ValidateTeamID accepts the two in-game teams.
func ValidateTeamID(id int) error {
	return validation.Validate(id, validation.In(1, 2).Error("must be team 1 or 2"))
}

// ValidateSquadID accepts positive squad numbers.
func ValidateSquadID(id int) error {
	return validation.Validate(id, validation.Min(1).Error("must be a positive squad number"))
}
