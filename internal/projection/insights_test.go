package projection

import "testing"

func TestAffordabilityRiskIsStrict(t *testing.T) {
	if AffordabilityRisk(300.00) {
		t.Fatalf("300.00 must not be flagged")
	}
	if !AffordabilityRisk(300.01) {
		t.Fatalf("300.01 must be flagged")
	}
	if AffordabilityRisk(0) {
		t.Fatalf("zero must not be flagged")
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(4000, 333.33)
	if !got.AffordabilityRisk {
		t.Fatalf("expected risk for 333.33")
	}
	if got.EmergencyFund != 800 {
		t.Fatalf("emergency fund = %v, want 800", got.EmergencyFund)
	}
}
