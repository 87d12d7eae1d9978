package registry

import "context"

// Store is the registry's single serializable state store. Every mutating
// method is one atomic transaction: it validates its relational
// preconditions (ownership, grant presence, patient/doctor liveness) inside
// the transaction that applies the write, so callers never observe partial
// effects and no check/use race exists between authorization and mutation.
//
// The aggregate counters are maintained in the same transactions that grow
// the underlying collections and can therefore never drift from them.
type Store interface {
	// Owner is the distinguished identity fixed at store creation. It alone
	// may register doctors, and it may manage consent for any patient.
	Owner() Identity

	// CreatePatient allocates the next sequential patient id and persists p.
	// Fails with ErrDuplicateRegistration when p.OwnerIdentity already owns
	// a patient.
	CreatePatient(ctx context.Context, p *Patient) (int64, error)
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	GetPatientByOwner(ctx context.Context, owner Identity) (*Patient, error)

	// PutDoctor inserts or updates a doctor entry. Re-registering an
	// existing identity updates name and license and reactivates it.
	PutDoctor(ctx context.Context, d *Doctor) error
	GetDoctor(ctx context.Context, identity Identity) (*Doctor, error)

	// AddGrant records consent for doctor to write records for the patient,
	// updating both directions of the relation. It is idempotent and reports
	// whether a grant was actually created, decided inside the same
	// transaction as the write so callers can emit audit events that track
	// the true state transitions. The caller must be the patient's owner or
	// the registry owner (ErrUnauthorized); an unknown patient or doctor is
	// ErrNotFound.
	AddGrant(ctx context.Context, caller, doctor Identity, patientID int64) (bool, error)

	// RemoveGrant revokes consent with the same authorization rule as
	// AddGrant, reporting whether a grant was actually removed. Revoking an
	// absent grant succeeds as a no-op.
	RemoveGrant(ctx context.Context, caller, doctor Identity, patientID int64) (bool, error)

	HasGrant(ctx context.Context, doctor Identity, patientID int64) (bool, error)
	PatientDoctors(ctx context.Context, patientID int64) ([]Identity, error)
	DoctorPatients(ctx context.Context, doctor Identity) ([]int64, error)

	// AppendRecord validates and appends one record entry: patient
	// missing/inactive is ErrNotFound, a rejecting policy decision is
	// ErrUnauthorized, an empty hash is ErrInvalidInput — in that order.
	// On success the entry carries a fresh global record id and the next
	// per-patient sequence number.
	AppendRecord(ctx context.Context, doctor Identity, patientID int64, recordHash, recordType string, policy Policy) (*RecordEntry, error)

	// PatientRecords returns the patient's entries in append order. A
	// patient with no records yields an empty slice; an unknown patient is
	// ErrNotFound.
	PatientRecords(ctx context.Context, patientID int64) ([]*RecordEntry, error)

	// Counters maintained alongside the mutations.
	TotalPatients(ctx context.Context) (int64, error)
	TotalRecords(ctx context.Context) (int64, error)

	// Recounts of the underlying collections, for audit verification.
	CountPatients(ctx context.Context) (int64, error)
	CountRecords(ctx context.Context) (int64, error)
}
