package typedstream

// Stats tallies per-strategy decode attempts across many calls. It is a
// plain value owned by the caller; nothing in this package keeps global
// counters, so concurrent decode runs stay independent. Give each worker
// its own Stats and Add them together at the end.
type Stats struct {
	Decoded     int
	Undecodable int

	Attempts  map[string]int
	Successes map[string]int
}

// Record tallies the attempts of one decode outcome.
func (s *Stats) Record(outcome Outcome) {
	if s.Attempts == nil {
		s.Attempts = make(map[string]int)
		s.Successes = make(map[string]int)
	}
	for _, att := range outcome.Attempts {
		s.Attempts[att.Strategy]++
		if att.Succeeded {
			s.Successes[att.Strategy]++
		}
	}
	if outcome.Source == SourceUndecodable {
		s.Undecodable++
	} else {
		s.Decoded++
	}
}

// Add merges another Stats value into this one.
func (s *Stats) Add(other Stats) {
	s.Decoded += other.Decoded
	s.Undecodable += other.Undecodable
	for name, n := range other.Attempts {
		if s.Attempts == nil {
			s.Attempts = make(map[string]int)
		}
		s.Attempts[name] += n
	}
	for name, n := range other.Successes {
		if s.Successes == nil {
			s.Successes = make(map[string]int)
		}
		s.Successes[name] += n
	}
}
