// Package ring builds deterministic partition-to-device placement tables for
// distributing object data across storage devices with replication. Building
// a ring is a pure function of (partition power, replica count, device list):
// identical inputs always produce an identical assignment. Rebalancing after
// a device-list change moves only the partitions that balance strictly
// requires.
package ring

import (
	"fmt"
)

// MaxPower bounds the partition power; 2^20 partitions is already far beyond
// what a development ring needs.
const MaxPower = 20

// Ring is a partition-to-device assignment table.
type Ring struct {
	// Power is the partition power; the ring has 2^Power partitions.
	Power uint `json:"power"`

	// Replicas is the number of distinct devices each partition maps to.
	Replicas int `json:"replicas"`

	// Devices is the ordered device list the ring was built from.
	Devices []string `json:"devices"`

	// Assignment maps each partition to its replica devices. Indexed by
	// partition, then replica.
	Assignment [][]string `json:"assignment"`
}

// Partitions returns the number of partitions in the ring.
func (r *Ring) Partitions() int {
	return 1 << r.Power
}

// Loads returns the number of partition replicas assigned to each device.
func (r *Ring) Loads() map[string]int {
	loads := make(map[string]int, len(r.Devices))
	for _, d := range r.Devices {
		loads[d] = 0
	}
	for _, replicas := range r.Assignment {
		for _, d := range replicas {
			loads[d]++
		}
	}
	return loads
}

// Build constructs a ring for the given partition power, replica count, and
// ordered device list. Each partition is assigned to `replicas` distinct
// devices and device load is balanced within one unit.
func Build(power uint, replicas int, devices []string) (*Ring, error) {
	if err := validate(power, replicas, devices); err != nil {
		return nil, err
	}

	parts := 1 << power
	assignment := make([][]string, parts)
	loads := make([]int, len(devices))

	for p := 0; p < parts; p++ {
		assignment[p] = make([]string, 0, replicas)
		used := make(map[int]bool, replicas)
		for r := 0; r < replicas; r++ {
			idx := pickLeastLoaded(loads, used)
			used[idx] = true
			loads[idx]++
			assignment[p] = append(assignment[p], devices[idx])
		}
	}

	return &Ring{
		Power:      power,
		Replicas:   replicas,
		Devices:    append([]string(nil), devices...),
		Assignment: assignment,
	}, nil
}

// Rebalance derives a new ring for an updated device list, preserving the
// previous assignment wherever possible. Replicas on removed devices are
// reassigned, and further partitions move only while device loads differ by
// more than one unit.
func Rebalance(prev *Ring, devices []string) (*Ring, error) {
	if prev == nil {
		return nil, fmt.Errorf("previous ring is required")
	}
	if err := validate(prev.Power, prev.Replicas, devices); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(devices))
	for i, d := range devices {
		index[d] = i
	}

	parts := prev.Partitions()
	assignment := make([][]string, parts)
	loads := make([]int, len(devices))

	// Phase one: carry over every replica whose device survived; mark the
	// rest as orphaned slots.
	type slot struct{ part, replica int }
	var orphans []slot

	for p := 0; p < parts; p++ {
		assignment[p] = make([]string, prev.Replicas)
		for r, d := range prev.Assignment[p] {
			if i, ok := index[d]; ok {
				assignment[p][r] = d
				loads[i]++
			} else {
				orphans = append(orphans, slot{part: p, replica: r})
			}
		}
	}

	// Phase two: fill orphaned slots with the least-loaded device not
	// already holding the partition.
	for _, o := range orphans {
		used := make(map[int]bool, prev.Replicas)
		for _, d := range assignment[o.part] {
			if d == "" {
				continue
			}
			used[index[d]] = true
		}
		idx := pickLeastLoaded(loads, used)
		used[idx] = true
		loads[idx]++
		assignment[o.part][o.replica] = devices[idx]
	}

	// Phase three: move partitions from overloaded to underloaded devices
	// until loads are within one unit. Partition scan order is fixed so the
	// result is deterministic.
	for {
		max, min := 0, 0
		for i := range loads {
			if loads[i] > loads[max] {
				max = i
			}
			if loads[i] < loads[min] {
				min = i
			}
		}
		if loads[max]-loads[min] <= 1 {
			break
		}

		moved := false
	scan:
		for p := 0; p < parts; p++ {
			holdsMin := false
			for _, d := range assignment[p] {
				if d == devices[min] {
					holdsMin = true
					break
				}
			}
			if holdsMin {
				continue
			}
			for r, d := range assignment[p] {
				if d == devices[max] {
					assignment[p][r] = devices[min]
					loads[max]--
					loads[min]++
					moved = true
					break scan
				}
			}
		}
		if !moved {
			// No legal move exists; distinctness constraints pin the
			// remaining imbalance.
			break
		}
	}

	return &Ring{
		Power:      prev.Power,
		Replicas:   prev.Replicas,
		Devices:    append([]string(nil), devices...),
		Assignment: assignment,
	}, nil
}

// pickLeastLoaded returns the index of the least-loaded device not in used,
// breaking ties by device order.
func pickLeastLoaded(loads []int, used map[int]bool) int {
	best := -1
	for i := range loads {
		if used[i] {
			continue
		}
		if best == -1 || loads[i] < loads[best] {
			best = i
		}
	}
	return best
}

func validate(power uint, replicas int, devices []string) error {
	if power < 1 || power > MaxPower {
		return fmt.Errorf("partition power must be between 1 and %d, got %d", MaxPower, power)
	}
	if replicas < 1 {
		return fmt.Errorf("replica count must be at least 1, got %d", replicas)
	}
	if len(devices) == 0 {
		return fmt.Errorf("device list is empty")
	}
	if replicas > len(devices) {
		return fmt.Errorf("replica count %d exceeds device count %d", replicas, len(devices))
	}
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d == "" {
			return fmt.Errorf("device name is empty")
		}
		if seen[d] {
			return fmt.Errorf("duplicate device %q", d)
		}
		seen[d] = true
	}
	return nil
}
