package racing

// Merge folds another record for the same race into r. The first-seen
// record is canonical: venue, date, and start time are kept unless
// empty. Runner odds are unioned per source; within one source the
// fresher quote wins.
func (r *Race) Merge(other *Race) {
	if r.StartTime == "" {
		r.StartTime = other.StartTime
	}
	for _, orn := range other.Runners {
		rn := r.Runner(orn.Number)
		if rn == nil {
			copied := &Runner{
				Number: orn.Number,
				Name:   orn.Name,
				Odds:   make(map[string]OddsQuote, len(orn.Odds)),
			}
			for src, q := range orn.Odds {
				copied.Odds[src] = q
			}
			r.Runners = append(r.Runners, copied)
			continue
		}
		if rn.Name == "" {
			rn.Name = orn.Name
		}
		if rn.Odds == nil {
			rn.Odds = make(map[string]OddsQuote, len(orn.Odds))
		}
		for src, q := range orn.Odds {
			if existing, ok := rn.Odds[src]; ok && existing.LastUpdated.After(q.LastUpdated) {
				continue
			}
			rn.Odds[src] = q
		}
	}
}
