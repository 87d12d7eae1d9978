package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RegisterPatient registers the caller as a patient and returns the new
// sequential patient id. dateOfBirth is unix seconds. One patient per
// identity: a second registration by the same caller fails with
// ErrDuplicateRegistration.
func (s *Service) RegisterPatient(ctx context.Context, caller Identity, name string, dateOfBirth int64, bloodType string) (int64, error) {
	if caller == "" {
		return 0, fmt.Errorf("caller identity is required: %w", ErrInvalidInput)
	}
	if name == "" {
		return 0, fmt.Errorf("patient name is required: %w", ErrInvalidInput)
	}
	if dateOfBirth <= 0 {
		return 0, fmt.Errorf("date of birth must be positive unix seconds: %w", ErrInvalidInput)
	}

	p := &Patient{
		OwnerIdentity: caller,
		Name:          name,
		DateOfBirth:   time.Unix(dateOfBirth, 0).UTC(),
		BloodType:     bloodType,
	}
	id, err := s.store.CreatePatient(ctx, p)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int64("patient_id", id).
		Str("owner_identity", string(caller)).
		Msg("patient registered")

	s.publish(ctx, EventPatientRegistered, map[string]string{
		"patient_id":     strconv.FormatInt(id, 10),
		"owner_identity": string(caller),
		"name":           name,
	})
	return id, nil
}

// RegisterDoctor registers or re-registers a doctor. Only the registry owner
// may call it. Re-registering an existing identity updates the name and
// license number and reactivates the entry.
func (s *Service) RegisterDoctor(ctx context.Context, caller, doctor Identity, name, licenseNumber string) error {
	if caller != s.store.Owner() {
		return fmt.Errorf("caller %s may not register doctors: %w", caller, ErrUnauthorized)
	}
	if doctor == "" {
		return fmt.Errorf("doctor identity is required: %w", ErrInvalidInput)
	}
	if name == "" {
		return fmt.Errorf("doctor name is required: %w", ErrInvalidInput)
	}
	if licenseNumber == "" {
		return fmt.Errorf("license number is required: %w", ErrInvalidInput)
	}

	d := &Doctor{
		Identity:      doctor,
		Name:          name,
		LicenseNumber: licenseNumber,
	}
	if err := s.store.PutDoctor(ctx, d); err != nil {
		return err
	}

	s.logger.Info().
		Str("doctor_identity", string(doctor)).
		Str("license_number", licenseNumber).
		Msg("doctor registered")
	return nil
}

// GetPatient returns the patient with the given id.
func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.store.GetPatient(ctx, id)
}

// GetPatientIDByIdentity resolves an owner identity to its patient id.
func (s *Service) GetPatientIDByIdentity(ctx context.Context, owner Identity) (int64, error) {
	p, err := s.store.GetPatientByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// GetDoctor returns the doctor entry for the given identity.
func (s *Service) GetDoctor(ctx context.Context, identity Identity) (*Doctor, error) {
	return s.store.GetDoctor(ctx, identity)
}
