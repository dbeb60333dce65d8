package simulator

import "time"

// MoveAxis advances pos toward target at vel steps per second for dt and
// never overshoots the target. Positions truncate toward zero.
func MoveAxis(pos, target uint32, vel float64, dt time.Duration) uint32 {
	return uint32(moveExact(float64(pos), target, vel, dt))
}

func moveExact(pos float64, target uint32, vel float64, dt time.Duration) float64 {
	goal := float64(target)
	if pos == goal || dt <= 0 {
		return pos
	}
	if vel < 0 {
		vel = -vel
	}
	delta := vel * dt.Seconds()
	if pos < goal {
		if pos+delta > goal {
			return goal
		}
		return pos + delta
	}
	if pos-delta < goal {
		return goal
	}
	return pos - delta
}
