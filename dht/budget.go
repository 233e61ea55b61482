package dht

const (
	timeoutMicros = 100
	// minimum cost of one polling iteration, in processor cycles
	loopCycles = 4
)

// DefaultTimeoutBudget is the budget of a 16 MHz controller.
var DefaultTimeoutBudget = TimeoutBudget(16000000)

// TimeoutBudget converts the processor clock into the number of polling
// iterations that take at least 100 µs. Since one iteration costs at least
// loopCycles cycles, 100 µs is cpuHz/1e6*100/loopCycles = cpuHz/40000 loops.
func TimeoutBudget(cpuHz uint32) uint16 {
	loops := uint64(cpuHz) * timeoutMicros / (1000000 * loopCycles)
	return clampBudget(loops)
}

// MeasureBudget counts how many line reads fit in 100 µs on this host and
// returns the largest count seen over rounds. It is meant for hosts where
// the cycle cost of a read is unknown (memory mapped GPIO under Linux). The
// line should be idle while measuring.
func MeasureBudget(pin Pin, clock Clock, rounds int) uint16 {
	if rounds < 1 {
		rounds = 1
	}
	var best uint64
	for r := 0; r < rounds; r++ {
		var loops uint64
		start := clock.Micros()
		for clock.Micros()-start < timeoutMicros {
			pin.Read()
			loops++
			if loops >= 0xFFFF {
				break
			}
		}
		if loops > best {
			best = loops
		}
	}
	return clampBudget(best)
}

func clampBudget(loops uint64) uint16 {
	if loops < 1 {
		return 1
	}
	if loops > 0xFFFF {
		return 0xFFFF
	}
	return uint16(loops)
}
