package validators

import "testing"

func TestValidateEOSID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"aaaa1111aaaa1111aaaa1111aaaa1111", false},
		{"0002a10186d9414496bf20d22d3860ba", false},
		{"", true},
		{"AAAA1111AAAA1111AAAA1111AAAA1111", true}, // uppercase never appears in logs
		{"aaaa1111aaaa1111aaaa1111aaaa111", true},  // 31 chars
		{"aaaa1111aaaa1111aaaa1111aaaa11112", true},
		{"gggg1111aaaa1111aaaa1111aaaa1111", true},
	}
	for _, tt := range tests {
		if err := ValidateEOSID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateEOSID(%q) = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestValidateSteamID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"76561198000000001", false},
		{"76561199123456789", false},
		{"", true},
		{"7656119800000000", true},   // 16 digits
		{"765611980000000012", true}, // 18 digits
		{"12345678901234567", true},  // below the 64-bit id base
		{"7656119800000000a", true},
	}
	for _, tt := range tests {
		if err := ValidateSteamID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateSteamID(%q) = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestValidateController(t *testing.T) {
	if err := ValidateController("BP_PlayerController_C_2146085496"); err != nil {
		t.Errorf("valid controller rejected: %v", err)
	}
	for _, bad := range []string{"", "BP_PlayerController_C_", "BP_Soldier_C_42", "PlayerController_C_42"} {
		if err := ValidateController(bad); err == nil {
			t.Errorf("ValidateController(%q) accepted", bad)
		}
	}
}

func TestValidateTeamAndSquad(t *testing.T) {
	if err := ValidateTeamID(1); err != nil {
		t.Error(err)
	}
	if err := ValidateTeamID(2); err != nil {
		t.Error(err)
	}
	for _, bad := range []int{0, 3, -1} {
		if err := ValidateTeamID(bad); err == nil {
			t.Errorf("ValidateTeamID(%d) accepted", bad)
		}
	}

	if err := ValidateSquadID(1); err != nil {
		t.Error(err)
	}
	if err := ValidateSquadID(0); err == nil {
		t.Error("ValidateSquadID(0) accepted")
	}
}
