package orchestrator

import (
	"fmt"
	"sort"

	"roundtable/internal/types"
)

// =============================================================================
// EXECUTION MODE SELECTION
// =============================================================================

// planWaves orders the working set by its internal dependencies and
// classifies the resulting schedule.
//
// Only dependencies between two members of the set impose ordering; a
// dependency on a registered profile outside the set is ignored, while
// a dependency on an unregistered profile fails the plan outright. The
// returned waves are Kahn layers: everything inside one wave runs in
// parallel, waves run in order. No edges means a single parallel wave;
// one wave per profile means a serial chain; anything else is hybrid.
func planWaves(participants []types.Profile, registered func(string) bool) ([][]string, types.ExecutionMode, error) {
	inSet := make(map[string]bool, len(participants))
	for _, p := range participants {
		inSet[p.ID] = true
	}

	// dependents[a] lists profiles that must run after a.
	dependents := make(map[string][]string)
	indegree := make(map[string]int, len(participants))
	edges := 0
	for _, p := range participants {
		indegree[p.ID] += 0
		seen := make(map[string]bool)
		for _, dep := range p.DependsOn {
			if !registered(dep.ProfileID) {
				return nil, types.ModeParallel, fmt.Errorf("profile %s depends on unregistered profile %s", p.ID, dep.ProfileID)
			}
			if !inSet[dep.ProfileID] || seen[dep.ProfileID] {
				continue
			}
			seen[dep.ProfileID] = true
			dependents[dep.ProfileID] = append(dependents[dep.ProfileID], p.ID)
			indegree[p.ID]++
			edges++
		}
	}

	remaining := len(participants)
	waves := make([][]string, 0, 1)
	for remaining > 0 {
		var wave []string
		for id, deg := range indegree {
			if deg == 0 {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			stuck := make([]string, 0, len(indegree))
			for id := range indegree {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, types.ModeParallel, fmt.Errorf("dependency cycle among profiles %v", stuck)
		}
		sort.Strings(wave)
		for _, id := range wave {
			delete(indegree, id)
			for _, next := range dependents[id] {
				indegree[next]--
			}
		}
		waves = append(waves, wave)
		remaining -= len(wave)
	}

	mode := types.ModeHybrid
	switch {
	case edges == 0:
		mode = types.ModeParallel
	case len(waves) == len(participants):
		// Every wave holds exactly one profile. With at least one edge
		// that is a single linear chain.
		mode = types.ModeSerial
	}
	return waves, mode, nil
}
