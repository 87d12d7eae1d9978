package registry

import (
	"context"
	"strconv"
)

// GrantAccess records the patient's consent for doctor to append records.
// The caller must be the patient's owner or the registry owner. Granting an
// already-present grant is an idempotent success and emits no event. Whether
// an event fires is decided by the store inside the mutation's transaction,
// so the audit stream tracks the actual state transitions even under
// concurrent grant/revoke traffic.
func (s *Service) GrantAccess(ctx context.Context, caller, doctor Identity, patientID int64) error {
	added, err := s.store.AddGrant(ctx, caller, doctor, patientID)
	if err != nil {
		return err
	}

	if added {
		s.logger.Info().
			Int64("patient_id", patientID).
			Str("doctor_identity", string(doctor)).
			Str("caller", string(caller)).
			Msg("access granted")
		s.publish(ctx, EventAccessGranted, map[string]string{
			"patient_id":      strconv.FormatInt(patientID, 10),
			"doctor_identity": string(doctor),
		})
	}
	return nil
}

// RevokeAccess removes the consent grant under the same authorization rule
// as GrantAccess. Revoking an absent grant is a no-op and emits no event.
func (s *Service) RevokeAccess(ctx context.Context, caller, doctor Identity, patientID int64) error {
	removed, err := s.store.RemoveGrant(ctx, caller, doctor, patientID)
	if err != nil {
		return err
	}

	if removed {
		s.logger.Info().
			Int64("patient_id", patientID).
			Str("doctor_identity", string(doctor)).
			Str("caller", string(caller)).
			Msg("access revoked")
		s.publish(ctx, EventAccessRevoked, map[string]string{
			"patient_id":      strconv.FormatInt(patientID, 10),
			"doctor_identity": string(doctor),
		})
	}
	return nil
}

// IsAuthorized reports whether doctor currently holds a consent grant for
// the patient. It never errors on unknown principals; they are simply not
// authorized.
func (s *Service) IsAuthorized(ctx context.Context, doctor Identity, patientID int64) (bool, error) {
	return s.store.HasGrant(ctx, doctor, patientID)
}

// GetPatientDoctors lists the doctors currently granted access to the
// patient, in grant order.
func (s *Service) GetPatientDoctors(ctx context.Context, patientID int64) ([]Identity, error) {
	return s.store.PatientDoctors(ctx, patientID)
}

// GetDoctorPatients lists the patients the doctor currently has access to,
// in grant order.
func (s *Service) GetDoctorPatients(ctx context.Context, doctor Identity) ([]int64, error) {
	return s.store.DoctorPatients(ctx, doctor)
}
