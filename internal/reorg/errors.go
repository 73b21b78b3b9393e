package reorg

import "fmt"

// ErrReorgTooDeep is returned when the backward walk to find a common
// ancestor exceeds MAX_REORG_DEPTH without converging (spec.md §4.8).
// It is fatal and requires operator intervention.
type ErrReorgTooDeep struct {
	ChainID string
	Height  string
	Depth   uint64
	Max     uint64
}

func (e *ErrReorgTooDeep) Error() string {
	return fmt.Sprintf("reorg: chain %s height %s: depth %d exceeds MAX_REORG_DEPTH=%d, operator intervention required",
		e.ChainID, e.Height, e.Depth, e.Max)
}

// ErrConvergenceFailed is returned when the backward walk runs out of
// locally stored history before finding a matching ancestor.
type ErrConvergenceFailed struct {
	ChainID string
}

func (e *ErrConvergenceFailed) Error() string {
	return fmt.Sprintf("reorg: chain %s: no common ancestor found in local history", e.ChainID)
}
