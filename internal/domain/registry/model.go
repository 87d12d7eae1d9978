package registry

import "time"

// Identity is an opaque principal identifier resolved by the external
// identity layer. The registry never verifies credentials itself.
type Identity string

// Patient maps to the patient table. The id is issued sequentially on
// registration and is immutable afterwards.
type Patient struct {
	ID            int64     `db:"id" json:"id"`
	OwnerIdentity Identity  `db:"owner_identity" json:"owner_identity"`
	Name          string    `db:"name" json:"name"`
	DateOfBirth   time.Time `db:"date_of_birth" json:"date_of_birth"`
	BloodType     string    `db:"blood_type" json:"blood_type"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Doctor maps to the doctor table, keyed by external identity.
type Doctor struct {
	Identity      Identity  `db:"identity" json:"identity"`
	Name          string    `db:"name" json:"name"`
	LicenseNumber string    `db:"license_number" json:"license_number"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// RecordEntry is one append-only entry in the medical record log. Entries
// are never updated or removed; the store hands out copies only.
type RecordEntry struct {
	RecordID     int64     `db:"record_id" json:"record_id"`
	PatientID    int64     `db:"patient_id" json:"patient_id"`
	RecordHash   string    `db:"record_hash" json:"record_hash"`
	RecordType   string    `db:"record_type" json:"record_type"`
	IsEmergency  bool      `db:"is_emergency" json:"is_emergency"`
	CreatedBy    Identity  `db:"created_by" json:"created_by"`
	SeqInPatient int64     `db:"seq_in_patient" json:"seq_in_patient"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Event types published on the bus after successful mutations.
const (
	EventPatientRegistered  = "patient.registered"
	EventAccessGranted      = "access.granted"
	EventAccessRevoked      = "access.revoked"
	EventMedicalRecordAdded = "medical_record.added"
)
