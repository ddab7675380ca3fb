package index

import (
	"iter"
	"sort"
)

// SortJobs orders jobs by start time, breaking ties by job id.
func SortJobs(jobs []*Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].StartTime.Equal(jobs[k].StartTime) {
			return jobs[i].StartTime.Before(jobs[k].StartTime)
		}
		return jobs[i].JobID < jobs[k].JobID
	})
}

// GroupCycles returns the cycles formed by jobs, oldest first. Jobs must
// belong to a single subclient and be sorted with SortJobs. The sequence is
// lazy and may be ranged over any number of times; each job's CycleID is set
// as its cycle is produced.
func GroupCycles(jobs []*Job) iter.Seq[Cycle] {
	return func(yield func(Cycle) bool) {
		var current Cycle
		open := false

		for _, job := range jobs {
			if job.Type.OpensCycle() {
				if open && !yield(current) {
					return
				}
				current = Cycle{ID: job.JobID, Anchor: job}
				open = true
			} else if !open {
				current = Cycle{}
				open = true
			}
			job.CycleID = current.ID
			current.Jobs = append(current.Jobs, job)
		}

		if open {
			yield(current)
		}
	}
}

// CollectCycles materializes GroupCycles.
func CollectCycles(jobs []*Job) []Cycle {
	var cycles []Cycle
	for c := range GroupCycles(jobs) {
		cycles = append(cycles, c)
	}
	return cycles
}

// AssignCycleIDs sets CycleID on every job of a sorted single-subclient slice.
func AssignCycleIDs(jobs []*Job) {
	for range GroupCycles(jobs) {
	}
}
