package coord

import (
	"github.com/chronomesh/chronomesh/pkg/metrics"
)

// electMaster picks the member with the lowest offset uncertainty among
// devices whose quality is better than POOR and which are currently
// heartbeat-healthy. Ties break on device id, so re-running the election
// on an unchanged snapshot always yields the same master.
func (c *Coordinator) electMaster(members []string) (string, error) {
	best := ""
	var bestUncertainty int64

	for _, id := range members {
		cell, ok := c.reg.Cell(id)
		if !ok {
			continue
		}
		snap := cell.Snapshot()
		if !snap.Eligible() || !c.bc.Healthy(id) {
			continue
		}

		u := int64(snap.Uncertainty)
		switch {
		case best == "",
			u < bestUncertainty,
			u == bestUncertainty && id < best:
			best = id
			bestUncertainty = u
		}
	}

	if best == "" {
		metrics.RecordElectionFailure()
		return "", ErrNoSyncQuorum
	}
	return best, nil
}
