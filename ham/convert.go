package ham

// Convert narrows a canonical double-precision description to the working
// scalar type of a job.
func Convert[T Scalar](d *Description[complex128]) *Description[T] {
	out := &Description[T]{
		Anderson:  d.Anderson,
		Vacancies: d.Vacancies,
		Complex:   d.Complex,
	}
	out.Hops = make([][]Hopping[T], len(d.Hops))
	for o, hops := range d.Hops {
		out.Hops[o] = make([]Hopping[T], len(hops))
		for i, h := range hops {
			out.Hops[o][i] = Hopping[T]{Disp: h.Disp, ToOrb: h.ToOrb, T: T(h.T)}
		}
	}
	out.Patterns = make([]Pattern[T], len(d.Patterns))
	for p, pat := range d.Patterns {
		bonds := make([]PatternBond[T], len(pat.Bonds))
		for k, b := range pat.Bonds {
			bonds[k] = PatternBond[T]{To: b.To, From: b.From, T: T(b.T)}
		}
		out.Patterns[p] = Pattern[T]{
			NodeOffsets:   pat.NodeOffsets,
			NodeOrbs:      pat.NodeOrbs,
			Bonds:         bonds,
			Onsites:       pat.Onsites,
			Concentration: pat.Concentration,
			FixedAnchors:  pat.FixedAnchors,
		}
	}
	return out
}
