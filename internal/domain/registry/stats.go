package registry

import "context"

// Stats are the registry's aggregate counters, maintained transactionally
// with the mutations they count.
type Stats struct {
	TotalPatients int64 `json:"total_patients"`
	TotalRecords  int64 `json:"total_records"`
}

// CounterAudit compares each maintained counter with a fresh recount of the
// collection it tracks.
type CounterAudit struct {
	Stats
	CountedPatients int64 `json:"counted_patients"`
	CountedRecords  int64 `json:"counted_records"`
}

// Consistent reports whether both counters agree with their recounts.
func (a CounterAudit) Consistent() bool {
	return a.TotalPatients == a.CountedPatients && a.TotalRecords == a.CountedRecords
}

// GetStats returns the maintained counters.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	patients, err := s.store.TotalPatients(ctx)
	if err != nil {
		return Stats{}, err
	}
	records, err := s.store.TotalRecords(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalPatients: patients, TotalRecords: records}, nil
}

// VerifyCounters recounts the stored collections and reports them next to
// the maintained counters, for drift audits.
func (s *Service) VerifyCounters(ctx context.Context) (CounterAudit, error) {
	stats, err := s.GetStats(ctx)
	if err != nil {
		return CounterAudit{}, err
	}
	countedPatients, err := s.store.CountPatients(ctx)
	if err != nil {
		return CounterAudit{}, err
	}
	countedRecords, err := s.store.CountRecords(ctx)
	if err != nil {
		return CounterAudit{}, err
	}
	return CounterAudit{
		Stats:           stats,
		CountedPatients: countedPatients,
		CountedRecords:  countedRecords,
	}, nil
}
