package registry

import (
	"context"
	"strconv"
)

// AddMedicalRecord appends a record entry under the normal consent policy:
// the caller must be a registered, active doctor holding a consent grant for
// the patient.
func (s *Service) AddMedicalRecord(ctx context.Context, doctor Identity, patientID int64, recordHash, recordType string) (*RecordEntry, error) {
	return s.appendRecord(ctx, doctor, patientID, recordHash, recordType, PolicyNormal)
}

// AddEmergencyRecord appends a record entry under the emergency policy: any
// registered, active doctor may write, consent or not. The bypass is logged
// at warning level and the entry is permanently flagged as an emergency
// write so it stands out in later audit review.
func (s *Service) AddEmergencyRecord(ctx context.Context, doctor Identity, patientID int64, recordHash, recordType string) (*RecordEntry, error) {
	entry, err := s.appendRecord(ctx, doctor, patientID, recordHash, recordType, PolicyEmergency)
	if err != nil {
		return nil, err
	}

	s.logger.Warn().
		Int64("patient_id", patientID).
		Str("doctor_identity", string(doctor)).
		Int64("record_id", entry.RecordID).
		Msg("emergency access: consent bypassed")
	return entry, nil
}

// appendRecord delegates entirely to the store, which validates in order:
// patient missing/inactive, policy rejection, empty hash. An empty doctor
// identity needs no pre-check; it is unknown to the store and the policy
// denies it.
func (s *Service) appendRecord(ctx context.Context, doctor Identity, patientID int64, recordHash, recordType string, policy Policy) (*RecordEntry, error) {
	entry, err := s.store.AppendRecord(ctx, doctor, patientID, recordHash, recordType, policy)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("record_id", entry.RecordID).
		Int64("patient_id", patientID).
		Str("doctor_identity", string(doctor)).
		Str("record_type", recordType).
		Str("policy", policy.String()).
		Msg("medical record added")

	s.publish(ctx, EventMedicalRecordAdded, map[string]string{
		"record_id":       strconv.FormatInt(entry.RecordID, 10),
		"patient_id":      strconv.FormatInt(patientID, 10),
		"doctor_identity": string(doctor),
		"record_hash":     recordHash,
		"record_type":     recordType,
		"is_emergency":    strconv.FormatBool(entry.IsEmergency),
	})
	return entry, nil
}

// GetPatientRecords returns the patient's record entries in append order.
func (s *Service) GetPatientRecords(ctx context.Context, patientID int64) ([]*RecordEntry, error) {
	return s.store.PatientRecords(ctx, patientID)
}
