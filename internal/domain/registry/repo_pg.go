package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the PostgreSQL Store. Every mutation runs in a serializable
// transaction and re-validates its preconditions inside it, so concurrent
// writers cannot interleave between an authorization check and the write it
// guards.
type PGStore struct {
	pool  *pgxpool.Pool
	owner Identity
}

func NewPGStore(pool *pgxpool.Pool, owner Identity) *PGStore {
	return &PGStore{pool: pool, owner: owner}
}

func (s *PGStore) Owner() Identity {
	return s.owner
}

func (s *PGStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// -- Identity --

func (s *PGStore) CreatePatient(ctx context.Context, p *Patient) (int64, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var existing int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM patient WHERE owner_identity = $1`, p.OwnerIdentity,
		).Scan(&existing)
		if err == nil {
			return fmt.Errorf("identity %s already owns patient %d: %w", p.OwnerIdentity, existing, ErrDuplicateRegistration)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check owner identity: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO patient (owner_identity, name, date_of_birth, blood_type, active)
			VALUES ($1, $2, $3, $4, TRUE)
			RETURNING id, active, created_at`,
			p.OwnerIdentity, p.Name, p.DateOfBirth, p.BloodType,
		).Scan(&p.ID, &p.Active, &p.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE registry_stats SET total_patients = total_patients + 1 WHERE id = 1`,
		); err != nil {
			return fmt.Errorf("bump patient counter: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (s *PGStore) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return scanPatient(s.pool.QueryRow(ctx, `
		SELECT id, owner_identity, name, date_of_birth, blood_type, active, created_at
		FROM patient WHERE id = $1`, id),
		fmt.Sprintf("patient %d", id))
}

func (s *PGStore) GetPatientByOwner(ctx context.Context, owner Identity) (*Patient, error) {
	return scanPatient(s.pool.QueryRow(ctx, `
		SELECT id, owner_identity, name, date_of_birth, blood_type, active, created_at
		FROM patient WHERE owner_identity = $1`, owner),
		fmt.Sprintf("patient for identity %s", owner))
}

func (s *PGStore) PutDoctor(ctx context.Context, d *Doctor) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO doctor (identity, name, license_number, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (identity) DO UPDATE
		SET name = EXCLUDED.name,
		    license_number = EXCLUDED.license_number,
		    active = TRUE,
		    updated_at = NOW()
		RETURNING active, created_at, updated_at`,
		d.Identity, d.Name, d.LicenseNumber,
	).Scan(&d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert doctor: %w", err)
	}
	return nil
}

func (s *PGStore) GetDoctor(ctx context.Context, identity Identity) (*Doctor, error) {
	return scanDoctor(s.pool.QueryRow(ctx, `
		SELECT identity, name, license_number, active, created_at, updated_at
		FROM doctor WHERE identity = $1`, identity), identity)
}

// -- Consent --

// lockConsentRow loads the patient row FOR UPDATE and applies the grant
// authorization rule: the caller must be the patient's owner or the registry
// owner. The row lock serializes concurrent consent changes per patient.
func (s *PGStore) lockConsentRow(ctx context.Context, tx pgx.Tx, caller Identity, patientID int64) error {
	var ownerIdentity Identity
	err := tx.QueryRow(ctx,
		`SELECT owner_identity FROM patient WHERE id = $1 FOR UPDATE`, patientID,
	).Scan(&ownerIdentity)
	if errors.Is(err, pgx.ErrNoRows) {
		if caller != s.owner {
			return fmt.Errorf("caller %s may not manage consent for patient %d: %w", caller, patientID, ErrUnauthorized)
		}
		return fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load patient %d: %w", patientID, err)
	}
	if caller != s.owner && caller != ownerIdentity {
		return fmt.Errorf("caller %s may not manage consent for patient %d: %w", caller, patientID, ErrUnauthorized)
	}
	return nil
}

func (s *PGStore) requireDoctor(ctx context.Context, tx pgx.Tx, doctor Identity) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM doctor WHERE identity = $1)`, doctor,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check doctor %s: %w", doctor, err)
	}
	if !exists {
		return fmt.Errorf("doctor %s: %w", doctor, ErrNotFound)
	}
	return nil
}

func (s *PGStore) AddGrant(ctx context.Context, caller, doctor Identity, patientID int64) (bool, error) {
	var added bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.lockConsentRow(ctx, tx, caller, patientID); err != nil {
			return err
		}
		if err := s.requireDoctor(ctx, tx, doctor); err != nil {
			return err
		}
		ct, err := tx.Exec(ctx, `
			INSERT INTO access_grant (patient_id, doctor_identity)
			VALUES ($1, $2)
			ON CONFLICT (patient_id, doctor_identity) DO NOTHING`,
			patientID, doctor,
		)
		if err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
		added = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *PGStore) RemoveGrant(ctx context.Context, caller, doctor Identity, patientID int64) (bool, error) {
	var removed bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.lockConsentRow(ctx, tx, caller, patientID); err != nil {
			return err
		}
		if err := s.requireDoctor(ctx, tx, doctor); err != nil {
			return err
		}
		ct, err := tx.Exec(ctx, `
			DELETE FROM access_grant WHERE patient_id = $1 AND doctor_identity = $2`,
			patientID, doctor,
		)
		if err != nil {
			return fmt.Errorf("delete grant: %w", err)
		}
		removed = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (s *PGStore) HasGrant(ctx context.Context, doctor Identity, patientID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM access_grant WHERE patient_id = $1 AND doctor_identity = $2
		)`, patientID, doctor,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return exists, nil
}

func (s *PGStore) PatientDoctors(ctx context.Context, patientID int64) ([]Identity, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doctor_identity FROM access_grant
		WHERE patient_id = $1 ORDER BY granted_at, doctor_identity`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient doctors: %w", err)
	}
	defer rows.Close()

	out := []Identity{}
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doctor identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) DoctorPatients(ctx context.Context, doctor Identity) ([]int64, error) {
	if _, err := s.GetDoctor(ctx, doctor); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT patient_id FROM access_grant
		WHERE doctor_identity = $1 ORDER BY granted_at, patient_id`, doctor)
	if err != nil {
		return nil, fmt.Errorf("list doctor patients: %w", err)
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan patient id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// -- Records --

func (s *PGStore) AppendRecord(ctx context.Context, doctor Identity, patientID int64, recordHash, recordType string, policy Policy) (*RecordEntry, error) {
	var entry *RecordEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var patient Patient
		err := tx.QueryRow(ctx, `
			SELECT id, owner_identity, name, date_of_birth, blood_type, active, created_at
			FROM patient WHERE id = $1 FOR UPDATE`, patientID,
		).Scan(&patient.ID, &patient.OwnerIdentity, &patient.Name, &patient.DateOfBirth,
			&patient.BloodType, &patient.Active, &patient.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !patient.Active) {
			return fmt.Errorf("patient %d missing or inactive: %w", patientID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load patient %d: %w", patientID, err)
		}

		var doc *Doctor
		var d Doctor
		err = tx.QueryRow(ctx, `
			SELECT identity, name, license_number, active, created_at, updated_at
			FROM doctor WHERE identity = $1`, doctor,
		).Scan(&d.Identity, &d.Name, &d.LicenseNumber, &d.Active, &d.CreatedAt, &d.UpdatedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			doc = nil
		case err != nil:
			return fmt.Errorf("load doctor %s: %w", doctor, err)
		default:
			doc = &d
		}

		var hasGrant bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM access_grant WHERE patient_id = $1 AND doctor_identity = $2
			)`, patientID, doctor,
		).Scan(&hasGrant); err != nil {
			return fmt.Errorf("check grant: %w", err)
		}

		decision := Decide(policy, doc, &patient, hasGrant)
		if !decision.Allowed {
			return fmt.Errorf("%s: %w", decision.Reason, ErrUnauthorized)
		}

		if recordHash == "" {
			return fmt.Errorf("record hash is required: %w", ErrInvalidInput)
		}

		e := RecordEntry{
			PatientID:   patientID,
			RecordHash:  recordHash,
			RecordType:  recordType,
			IsEmergency: policy == PolicyEmergency,
			CreatedBy:   doctor,
		}
		// The FOR UPDATE lock on the patient row makes the COUNT-based
		// sequence assignment safe against concurrent appenders.
		err = tx.QueryRow(ctx, `
			INSERT INTO medical_record
				(patient_id, record_hash, record_type, is_emergency, created_by, seq_in_patient)
			SELECT $1, $2, $3, $4, $5, COUNT(*) + 1
			FROM medical_record WHERE patient_id = $1
			RETURNING record_id, seq_in_patient, created_at`,
			e.PatientID, e.RecordHash, e.RecordType, e.IsEmergency, e.CreatedBy,
		).Scan(&e.RecordID, &e.SeqInPatient, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE registry_stats SET total_records = total_records + 1 WHERE id = 1`,
		); err != nil {
			return fmt.Errorf("bump record counter: %w", err)
		}

		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PGStore) PatientRecords(ctx context.Context, patientID int64) ([]*RecordEntry, error) {
	if _, err := s.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT record_id, patient_id, record_hash, record_type, is_emergency,
		       created_by, seq_in_patient, created_at
		FROM medical_record
		WHERE patient_id = $1
		ORDER BY seq_in_patient`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient records: %w", err)
	}
	defer rows.Close()

	out := []*RecordEntry{}
	for rows.Next() {
		var e RecordEntry
		if err := rows.Scan(&e.RecordID, &e.PatientID, &e.RecordHash, &e.RecordType,
			&e.IsEmergency, &e.CreatedBy, &e.SeqInPatient, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// -- Stats --

func (s *PGStore) TotalPatients(ctx context.Context) (int64, error) {
	return s.scanCount(ctx, `SELECT total_patients FROM registry_stats WHERE id = 1`)
}

func (s *PGStore) TotalRecords(ctx context.Context) (int64, error) {
	return s.scanCount(ctx, `SELECT total_records FROM registry_stats WHERE id = 1`)
}

func (s *PGStore) CountPatients(ctx context.Context) (int64, error) {
	return s.scanCount(ctx, `SELECT COUNT(*) FROM patient`)
}

func (s *PGStore) CountRecords(ctx context.Context) (int64, error) {
	return s.scanCount(ctx, `SELECT COUNT(*) FROM medical_record`)
}

func (s *PGStore) scanCount(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}

func scanPatient(row pgx.Row, what string) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.OwnerIdentity, &p.Name, &p.DateOfBirth,
		&p.BloodType, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", what, err)
	}
	return &p, nil
}

func scanDoctor(row pgx.Row, identity Identity) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.Identity, &d.Name, &d.LicenseNumber, &d.Active,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("doctor %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan doctor %s: %w", identity, err)
	}
	return &d, nil
}
