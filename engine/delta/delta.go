// Package delta implements the selective re-pass planner: given the current
// run's section fingerprints and a prior manifest's, it computes the
// minimal set of sections that actually need re-processing.
package delta

// SectionFingerprint is the subset of Pass A/B output the tracker needs.
type SectionFingerprint struct {
	SectionID  string
	Title      string
	Depth      int
	StartPage  int
	EndPage    int
	SectionSHA string
}

// Result is the tracker's output, mirroring the documented contract.
type Result struct {
	ChangedSectionIDs   []string
	ObsoleteSectionIDs  []string
	UnchangedSectionIDs []string
	// FullRebuild is true when changed_fraction reached or exceeded the configured
	// full_rebuild_threshold and the caller should treat every current
	// section as changed rather than trust this partial result.
	FullRebuild bool
}

func overlapRatio(a, b SectionFingerprint) float64 {
	start := max(a.StartPage, b.StartPage)
	end := min(a.EndPage, b.EndPage)
	overlap := end - start + 1
	if overlap <= 0 {
		return 0
	}
	spanA := a.EndPage - a.StartPage + 1
	spanB := b.EndPage - b.StartPage + 1
	union := spanA + spanB - overlap
	if union <= 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

// match finds the best prior-section match for cur by (title, depth,
// page-range overlap >= similarityThreshold). Returns ok=false if none
// clears the threshold.
func match(cur SectionFingerprint, prior []SectionFingerprint, similarityThreshold float64) (SectionFingerprint, bool) {
	var best SectionFingerprint
	bestRatio := -1.0
	found := false
	for _, p := range prior {
		if p.Title != cur.Title || p.Depth != cur.Depth {
			continue
		}
		ratio := overlapRatio(cur, p)
		if ratio >= similarityThreshold && ratio > bestRatio {
			best, bestRatio, found = p, ratio, true
		}
	}
	return best, found
}

// Compute implements the documented algorithm. fullRebuildThreshold and
// similarityThreshold come from the active Policy.
func Compute(current, prior []SectionFingerprint, similarityThreshold, fullRebuildThreshold float64) Result {
	var res Result
	matchedPrior := make(map[string]bool, len(prior))

	for _, cur := range current {
		p, ok := match(cur, prior, similarityThreshold)
		if !ok {
			res.ChangedSectionIDs = append(res.ChangedSectionIDs, cur.SectionID)
			continue
		}
		matchedPrior[p.SectionID] = true
		if p.SectionSHA == cur.SectionSHA {
			res.UnchangedSectionIDs = append(res.UnchangedSectionIDs, cur.SectionID)
		} else {
			res.ChangedSectionIDs = append(res.ChangedSectionIDs, cur.SectionID)
		}
	}

	for _, p := range prior {
		if !matchedPrior[p.SectionID] {
			res.ObsoleteSectionIDs = append(res.ObsoleteSectionIDs, p.SectionID)
		}
	}

	if len(current) > 0 {
		// The boundary is inclusive: a changed fraction exactly equal to
		// the threshold still triggers a full rebuild.
		changedFraction := float64(len(res.ChangedSectionIDs)) / float64(len(current))
		if changedFraction >= fullRebuildThreshold {
			res.FullRebuild = true
		}
	}
	return res
}
