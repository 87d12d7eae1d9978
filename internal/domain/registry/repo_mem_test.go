package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemStore_ReturnsCopies(t *testing.T) {
	store := NewMemStore(testOwner)
	ctx := context.Background()

	p := &Patient{OwnerIdentity: "alice", Name: "Alice"}
	id, err := store.CreatePatient(ctx, p)
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	got, err := store.GetPatient(ctx, id)
	if err != nil {
		t.Fatalf("GetPatient: %v", err)
	}
	got.Name = "Mallory"

	again, _ := store.GetPatient(ctx, id)
	if again.Name != "Alice" {
		t.Error("mutating a returned patient changed stored state")
	}
}

func TestMemStore_CreatePatient_SetsFields(t *testing.T) {
	store := NewMemStore(testOwner)
	ctx := context.Background()

	p := &Patient{OwnerIdentity: "alice", Name: "Alice"}
	if _, err := store.CreatePatient(ctx, p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if p.ID != 1 || !p.Active || p.CreatedAt.IsZero() {
		t.Errorf("CreatePatient did not stamp the entity: %+v", p)
	}
}

func TestMemStore_GrantChangeReport(t *testing.T) {
	store := NewMemStore(testOwner)
	ctx := context.Background()

	if _, err := store.CreatePatient(ctx, &Patient{OwnerIdentity: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if err := store.PutDoctor(ctx, &Doctor{Identity: "dr-a", Name: "Dr. Adams"}); err != nil {
		t.Fatalf("PutDoctor: %v", err)
	}

	added, err := store.AddGrant(ctx, "alice", "dr-a", 1)
	if err != nil {
		t.Fatalf("AddGrant: %v", err)
	}
	if !added {
		t.Error("first AddGrant reported no change")
	}
	if added, _ = store.AddGrant(ctx, "alice", "dr-a", 1); added {
		t.Error("repeated AddGrant reported a change")
	}

	removed, err := store.RemoveGrant(ctx, "alice", "dr-a", 1)
	if err != nil {
		t.Fatalf("RemoveGrant: %v", err)
	}
	if !removed {
		t.Error("RemoveGrant of a live grant reported no change")
	}
	if removed, _ = store.RemoveGrant(ctx, "alice", "dr-a", 1); removed {
		t.Error("RemoveGrant of an absent grant reported a change")
	}
}

func TestMemStore_AppendRecord_AtomicOnFailure(t *testing.T) {
	store := NewMemStore(testOwner)
	ctx := context.Background()

	if _, err := store.CreatePatient(ctx, &Patient{OwnerIdentity: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if err := store.PutDoctor(ctx, &Doctor{Identity: "dr-a", Name: "Dr. Adams"}); err != nil {
		t.Fatalf("PutDoctor: %v", err)
	}
	if _, err := store.AddGrant(ctx, "alice", "dr-a", 1); err != nil {
		t.Fatalf("AddGrant: %v", err)
	}

	// Rejected writes leave no trace: not in the log, not in the counters.
	if _, err := store.AppendRecord(ctx, "dr-a", 1, "", "note", PolicyNormal); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty hash err = %v, want ErrInvalidInput", err)
	}
	if total, _ := store.TotalRecords(ctx); total != 0 {
		t.Errorf("TotalRecords after rejected write = %d, want 0", total)
	}
	if records, _ := store.PatientRecords(ctx, 1); len(records) != 0 {
		t.Errorf("records after rejected write = %v, want empty", records)
	}

	// The next accepted write still gets sequence 1.
	entry, err := store.AppendRecord(ctx, "dr-a", 1, "hash-1", "note", PolicyNormal)
	if err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	if entry.SeqInPatient != 1 {
		t.Errorf("SeqInPatient = %d, want 1", entry.SeqInPatient)
	}
}

func TestMemStore_ConcurrentAppends(t *testing.T) {
	store := NewMemStore(testOwner)
	ctx := context.Background()

	if _, err := store.CreatePatient(ctx, &Patient{OwnerIdentity: "alice", Name: "Alice"}); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if err := store.PutDoctor(ctx, &Doctor{Identity: "dr-a", Name: "Dr. Adams"}); err != nil {
		t.Fatalf("PutDoctor: %v", err)
	}
	if _, err := store.AddGrant(ctx, "alice", "dr-a", 1); err != nil {
		t.Fatalf("AddGrant: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.AppendRecord(ctx, "dr-a", 1, fmt.Sprintf("hash-%d", i), "note", PolicyNormal); err != nil {
				t.Errorf("AppendRecord #%d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	records, err := store.PatientRecords(ctx, 1)
	if err != nil {
		t.Fatalf("PatientRecords: %v", err)
	}
	if len(records) != writers {
		t.Fatalf("got %d records, want %d", len(records), writers)
	}
	seen := make(map[int64]bool)
	for i, e := range records {
		if e.SeqInPatient != int64(i)+1 {
			t.Errorf("record %d has sequence %d, want %d", i, e.SeqInPatient, i+1)
		}
		if seen[e.RecordID] {
			t.Errorf("duplicate record id %d", e.RecordID)
		}
		seen[e.RecordID] = true
	}
	if total, _ := store.TotalRecords(ctx); total != writers {
		t.Errorf("TotalRecords = %d, want %d", total, writers)
	}
}

func TestMemStore_ConcurrentRegistrations(t *testing.T) {
	store := NewMemStore(testOwner)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := Identity(fmt.Sprintf("patient-%d", i))
			id, err := store.CreatePatient(ctx, &Patient{OwnerIdentity: owner, Name: "P"})
			if err != nil {
				t.Errorf("CreatePatient #%d: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range ids {
		if id < 1 || id > n {
			t.Errorf("id %d out of range [1, %d]", id, n)
		}
		if seen[id] {
			t.Errorf("duplicate patient id %d", id)
		}
		seen[id] = true
	}
	if total, _ := store.TotalPatients(ctx); total != n {
		t.Errorf("TotalPatients = %d, want %d", total, n)
	}
}
