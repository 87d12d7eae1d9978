package registry

import "testing"

func TestDecide(t *testing.T) {
	activeDoctor := &Doctor{Identity: "dr-a", Active: true}
	inactiveDoctor := &Doctor{Identity: "dr-b", Active: false}
	activePatient := &Patient{ID: 1, Active: true}
	inactivePatient := &Patient{ID: 2, Active: false}

	tests := []struct {
		name     string
		policy   Policy
		doctor   *Doctor
		patient  *Patient
		hasGrant bool
		allowed  bool
	}{
		{"normal with grant", PolicyNormal, activeDoctor, activePatient, true, true},
		{"normal without grant", PolicyNormal, activeDoctor, activePatient, false, false},
		{"normal unknown doctor", PolicyNormal, nil, activePatient, true, false},
		{"normal inactive doctor", PolicyNormal, inactiveDoctor, activePatient, true, false},
		{"normal unknown patient", PolicyNormal, activeDoctor, nil, true, false},
		{"normal inactive patient", PolicyNormal, activeDoctor, inactivePatient, true, false},
		{"emergency without grant", PolicyEmergency, activeDoctor, activePatient, false, true},
		{"emergency with grant", PolicyEmergency, activeDoctor, activePatient, true, true},
		{"emergency unknown doctor", PolicyEmergency, nil, activePatient, false, false},
		{"emergency inactive doctor", PolicyEmergency, inactiveDoctor, activePatient, false, false},
		{"emergency unknown patient", PolicyEmergency, activeDoctor, nil, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.policy, tc.doctor, tc.patient, tc.hasGrant)
			if d.Allowed != tc.allowed {
				t.Errorf("Decide() allowed = %v, want %v (reason: %s)", d.Allowed, tc.allowed, d.Reason)
			}
			if d.Reason == "" {
				t.Error("Decide() returned empty reason")
			}
		})
	}
}

func TestPolicyString(t *testing.T) {
	if got := PolicyNormal.String(); got != "normal" {
		t.Errorf("PolicyNormal.String() = %q", got)
	}
	if got := PolicyEmergency.String(); got != "emergency" {
		t.Errorf("PolicyEmergency.String() = %q", got)
	}
}
