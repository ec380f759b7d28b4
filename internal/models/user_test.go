package models

import "testing"

func TestRoleParty(t *testing.T) {
	tests := []struct {
		role  Role
		party Party
	}{
		{RoleCustomer, PartyUser},
		{RoleAdmin, PartyStaff},
		{RoleSuperadmin, PartyStaff},
		{Role("unknown"), PartyUser},
	}
	for _, tt := range tests {
		if got := tt.role.Party(); got != tt.party {
			t.Errorf("%s.Party() = %s, want %s", tt.role, got, tt.party)
		}
	}
}

func TestPartyCounterpart(t *testing.T) {
	if PartyUser.Counterpart() != PartyStaff {
		t.Error("user counterpart should be staff")
	}
	if PartyStaff.Counterpart() != PartyUser {
		t.Error("staff counterpart should be user")
	}
}
