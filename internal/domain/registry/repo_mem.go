package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is a thread-safe, in-memory Store. Mutations serialize behind a
// single write lock, which gives them the one-logical-writer atomicity the
// registry requires; reads take a shared lock and hand out copies so callers
// can never mutate stored state.
type MemStore struct {
	owner Identity

	mu             sync.RWMutex
	patients       map[int64]*Patient
	patientByOwner map[Identity]int64
	doctors        map[Identity]*Doctor

	// Bidirectional consent indices, mutated together under mu so they are
	// structurally incapable of diverging. The order slices keep listings
	// deterministic.
	patientGrants     map[int64]map[Identity]bool
	doctorGrants      map[Identity]map[int64]bool
	patientGrantOrder map[int64][]Identity
	doctorGrantOrder  map[Identity][]int64

	records          []*RecordEntry
	recordsByPatient map[int64][]*RecordEntry

	nextPatientID int64
	nextRecordID  int64
	totalPatients int64
	totalRecords  int64
}

func NewMemStore(owner Identity) *MemStore {
	return &MemStore{
		owner:             owner,
		patients:          make(map[int64]*Patient),
		patientByOwner:    make(map[Identity]int64),
		doctors:           make(map[Identity]*Doctor),
		patientGrants:     make(map[int64]map[Identity]bool),
		doctorGrants:      make(map[Identity]map[int64]bool),
		patientGrantOrder: make(map[int64][]Identity),
		doctorGrantOrder:  make(map[Identity][]int64),
		recordsByPatient:  make(map[int64][]*RecordEntry),
		nextPatientID:     1,
		nextRecordID:      1,
	}
}

func (s *MemStore) Owner() Identity {
	return s.owner
}

// -- Identity --

func (s *MemStore) CreatePatient(_ context.Context, p *Patient) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patientByOwner[p.OwnerIdentity]; exists {
		return 0, fmt.Errorf("identity %s already owns a patient: %w", p.OwnerIdentity, ErrDuplicateRegistration)
	}

	stored := *p
	stored.ID = s.nextPatientID
	stored.Active = true
	stored.CreatedAt = time.Now().UTC()

	s.patients[stored.ID] = &stored
	s.patientByOwner[stored.OwnerIdentity] = stored.ID
	s.nextPatientID++
	s.totalPatients++

	*p = stored
	return stored.ID, nil
}

func (s *MemStore) GetPatient(_ context.Context, id int64) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %d: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) GetPatientByOwner(_ context.Context, owner Identity) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.patientByOwner[owner]
	if !ok {
		return nil, fmt.Errorf("no patient for identity %s: %w", owner, ErrNotFound)
	}
	cp := *s.patients[id]
	return &cp, nil
}

func (s *MemStore) PutDoctor(_ context.Context, d *Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *d
	stored.Active = true
	stored.UpdatedAt = now

	if existing, ok := s.doctors[d.Identity]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}

	s.doctors[stored.Identity] = &stored
	*d = stored
	return nil
}

func (s *MemStore) GetDoctor(_ context.Context, identity Identity) (*Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.doctors[identity]
	if !ok {
		return nil, fmt.Errorf("doctor %s: %w", identity, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

// -- Consent --

// authorizeConsentChange enforces the grant/revoke rule under mu: the caller
// must be the patient's owner or the registry owner. The registry owner is
// always authorized, so for them a missing patient reports ErrNotFound; any
// other caller cannot own a patient that does not exist.
func (s *MemStore) authorizeConsentChange(caller Identity, patientID int64) (*Patient, error) {
	p, exists := s.patients[patientID]
	if caller != s.owner {
		if !exists || p.OwnerIdentity != caller {
			return nil, fmt.Errorf("caller %s may not manage consent for patient %d: %w", caller, patientID, ErrUnauthorized)
		}
	}
	if !exists {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	return p, nil
}

func (s *MemStore) AddGrant(_ context.Context, caller, doctor Identity, patientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.authorizeConsentChange(caller, patientID); err != nil {
		return false, err
	}
	if _, ok := s.doctors[doctor]; !ok {
		return false, fmt.Errorf("doctor %s: %w", doctor, ErrNotFound)
	}

	if s.patientGrants[patientID][doctor] {
		return false, nil // already granted
	}

	if s.patientGrants[patientID] == nil {
		s.patientGrants[patientID] = make(map[Identity]bool)
	}
	if s.doctorGrants[doctor] == nil {
		s.doctorGrants[doctor] = make(map[int64]bool)
	}
	s.patientGrants[patientID][doctor] = true
	s.doctorGrants[doctor][patientID] = true
	s.patientGrantOrder[patientID] = append(s.patientGrantOrder[patientID], doctor)
	s.doctorGrantOrder[doctor] = append(s.doctorGrantOrder[doctor], patientID)
	return true, nil
}

func (s *MemStore) RemoveGrant(_ context.Context, caller, doctor Identity, patientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.authorizeConsentChange(caller, patientID); err != nil {
		return false, err
	}
	if _, ok := s.doctors[doctor]; !ok {
		return false, fmt.Errorf("doctor %s: %w", doctor, ErrNotFound)
	}

	if !s.patientGrants[patientID][doctor] {
		return false, nil // nothing to revoke
	}

	delete(s.patientGrants[patientID], doctor)
	delete(s.doctorGrants[doctor], patientID)
	s.patientGrantOrder[patientID] = removeIdentity(s.patientGrantOrder[patientID], doctor)
	s.doctorGrantOrder[doctor] = removeID(s.doctorGrantOrder[doctor], patientID)
	return true, nil
}

func (s *MemStore) HasGrant(_ context.Context, doctor Identity, patientID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patientGrants[patientID][doctor], nil
}

func (s *MemStore) PatientDoctors(_ context.Context, patientID int64) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patients[patientID]; !ok {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}
	return append([]Identity(nil), s.patientGrantOrder[patientID]...), nil
}

func (s *MemStore) DoctorPatients(_ context.Context, doctor Identity) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.doctors[doctor]; !ok {
		return nil, fmt.Errorf("doctor %s: %w", doctor, ErrNotFound)
	}
	return append([]int64(nil), s.doctorGrantOrder[doctor]...), nil
}

// -- Records --

func (s *MemStore) AppendRecord(_ context.Context, doctor Identity, patientID int64, recordHash, recordType string, policy Policy) (*RecordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[patientID]
	if !ok || !p.Active {
		return nil, fmt.Errorf("patient %d missing or inactive: %w", patientID, ErrNotFound)
	}

	d := s.doctors[doctor]
	decision := Decide(policy, d, p, s.patientGrants[patientID][doctor])
	if !decision.Allowed {
		return nil, fmt.Errorf("%s: %w", decision.Reason, ErrUnauthorized)
	}

	if recordHash == "" {
		return nil, fmt.Errorf("record hash is required: %w", ErrInvalidInput)
	}

	entry := &RecordEntry{
		RecordID:     s.nextRecordID,
		PatientID:    patientID,
		RecordHash:   recordHash,
		RecordType:   recordType,
		IsEmergency:  policy == PolicyEmergency,
		CreatedBy:    doctor,
		SeqInPatient: int64(len(s.recordsByPatient[patientID])) + 1,
		CreatedAt:    time.Now().UTC(),
	}

	s.records = append(s.records, entry)
	s.recordsByPatient[patientID] = append(s.recordsByPatient[patientID], entry)
	s.nextRecordID++
	s.totalRecords++

	cp := *entry
	return &cp, nil
}

func (s *MemStore) PatientRecords(_ context.Context, patientID int64) ([]*RecordEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.patients[patientID]; !ok {
		return nil, fmt.Errorf("patient %d: %w", patientID, ErrNotFound)
	}

	entries := s.recordsByPatient[patientID]
	out := make([]*RecordEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// -- Stats --

func (s *MemStore) TotalPatients(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalPatients, nil
}

func (s *MemStore) TotalRecords(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalRecords, nil
}

func (s *MemStore) CountPatients(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.patients)), nil
}

func (s *MemStore) CountRecords(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func removeIdentity(list []Identity, id Identity) []Identity {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func removeID(list []int64, id int64) []int64 {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
