package core

import (
	"fmt"
	"math"
	"net/mail"
	"slices"
	"strings"
)

// Frequencies lists the accepted dosing frequencies.
var Frequencies = []string{"Once daily", "Twice daily", "Three times daily", "As needed", "Weekly", "Monthly"}

// DiseaseTypes lists the accepted disease categories.
var DiseaseTypes = []string{"Diabetes", "Hypertension", "Heart Disease", "Asthma", "Arthritis", "Mental Health", "Other"}

// MaxMonthlyCost bounds a single prescription so a user's summed monthly cost
// stays well inside the range the projection can compound.
const MaxMonthlyCost = 1_000_000

// PrescriptionInput is the user-submitted prescription form.
type PrescriptionInput struct {
	MedicineName string  `json:"medicine_name"`
	Dosage       string  `json:"dosage"`
	Frequency    string  `json:"frequency"`
	MonthlyCost  float64 `json:"monthly_cost"`
	DiseaseType  string  `json:"disease_type"`
}

// Normalize trims surrounding whitespace from every text field.
func (in PrescriptionInput) Normalize() PrescriptionInput {
	in.MedicineName = strings.TrimSpace(in.MedicineName)
	in.Dosage = strings.TrimSpace(in.Dosage)
	in.Frequency = strings.TrimSpace(in.Frequency)
	in.DiseaseType = strings.TrimSpace(in.DiseaseType)
	return in
}

// Validate checks every field and reports all problems at once, wrapped in ErrValidation.
func (in PrescriptionInput) Validate() error {
	var problems []string
	if in.MedicineName == "" {
		problems = append(problems, "medicine_name is required")
	}
	if in.Dosage == "" {
		problems = append(problems, "dosage is required")
	}
	if !slices.Contains(Frequencies, in.Frequency) {
		problems = append(problems, fmt.Sprintf("frequency must be one of %s", strings.Join(Frequencies, ", ")))
	}
	if !slices.Contains(DiseaseTypes, in.DiseaseType) {
		problems = append(problems, fmt.Sprintf("disease_type must be one of %s", strings.Join(DiseaseTypes, ", ")))
	}
	if math.IsNaN(in.MonthlyCost) || in.MonthlyCost < 0 || in.MonthlyCost > MaxMonthlyCost {
		problems = append(problems, fmt.Sprintf("monthly_cost must be between 0 and %d", MaxMonthlyCost))
	}
	return validationError(problems)
}

// Prescription converts the form into an unsaved prescription for userID.
func (in PrescriptionInput) Prescription(userID string) Prescription {
	return Prescription{
		UserID:       userID,
		MedicineName: in.MedicineName,
		Dosage:       in.Dosage,
		Frequency:    in.Frequency,
		MonthlyCost:  in.MonthlyCost,
		DiseaseType:  in.DiseaseType,
	}
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(email, fullName string) error {
	var problems []string
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		problems = append(problems, "email must be a valid address")
	}
	if strings.TrimSpace(fullName) == "" {
		problems = append(problems, "full_name is required")
	}
	return validationError(problems)
}

func validationError(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}
