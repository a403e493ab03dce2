package strategy

import (
	"fmt"

	"github.com/scarfall-net/warm-pool-autoscaler/pkg/config"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/probe"
)

// Kind tags the scale action decided for one cycle.
type Kind int

const (
	NoAction Kind = iota
	Grow
	Shrink
)

// Action is the strategy output: grow or shrink the pool by Count pods, or
// do nothing.
type Action struct {
	Kind  Kind
	Count int
}

func GrowBy(n int) Action   { return Action{Kind: Grow, Count: n} }
func ShrinkBy(n int) Action { return Action{Kind: Shrink, Count: n} }

func (a Action) String() string {
	switch a.Kind {
	case Grow:
		return fmt.Sprintf("GrowBy(%d)", a.Count)
	case Shrink:
		return fmt.Sprintf("ShrinkBy(%d)", a.Count)
	default:
		return "NoAction"
	}
}

// Decide is the reconciliation decision function. It is pure: state comes
// in as arguments (the observation, the target, the cooldown eligibility
// answer) and a single Action comes out.
//
// Rules, in order:
//  1. A deficit (totalCount < target) is always corrected immediately,
//     regardless of mode or cooldown. Cold-start risk is asymmetric.
//  2. Up-only mode never removes capacity once granted.
//  3. Up-down mode removes exactly the ready excess, and only after the
//     cooldown window has fully elapsed. Pending pods never count toward
//     excess so that pods still starting are not deleted.
func Decide(obs *probe.PoolObservation, targetPoolSize int, eligibleForScaleDown bool, mode config.Mode) Action {
	if obs.TotalCount < targetPoolSize {
		return GrowBy(targetPoolSize - obs.TotalCount)
	}
	if mode == config.ModeUpOnly {
		return Action{}
	}
	if obs.ReadyCount > targetPoolSize && eligibleForScaleDown {
		return ShrinkBy(obs.ReadyCount - targetPoolSize)
	}
	return Action{}
}
