package stages

import "research-dashboard/internal/domain"

// order is the fixed pipeline sequence; ordinal comparisons use this
// declared order, never payload order.
var order = []string{"planning", "searching", "synthesizing", "extracting", "compiling"}

// definitions carries the display copy shown in the loading view.
var definitions = []domain.Stage{
	{
		ID:          "planning",
		Name:        "Planning Search Queries",
		Description: "Analyzing your request and planning optimal search strategies...",
	},
	{
		ID:          "searching",
		Name:        "Searching the Web",
		Description: "Scouring relevant sources for the most current information...",
	},
	{
		ID:          "synthesizing",
		Name:        "Synthesizing Findings",
		Description: "Processing and analyzing collected data for insights...",
	},
	{
		ID:          "extracting",
		Name:        "Extracting Structured Data",
		Description: "Organizing findings into actionable intelligence formats...",
	},
	{
		ID:          "compiling",
		Name:        "Compiling Final Report",
		Description: "Generating your comprehensive executive intelligence report...",
	},
}

// Defaults returns a fresh all-pending stage list.
func Defaults() []domain.Stage {
	out := make([]domain.Stage, len(definitions))
	copy(out, definitions)
	for i := range out {
		out[i].Status = domain.StageStatusPending
		out[i].Progress = 0
	}
	return out
}

// IDs returns the stage ids in pipeline order.
func IDs() []string {
	out := make([]string, len(order))
	copy(out, order)
	return out
}

// ordinal maps a stage id to its position, or -1 when unknown.
func ordinal(id string) int {
	for i, known := range order {
		if known == id {
			return i
		}
	}
	return -1
}

// reached returns the highest ordinal already active or completed, or -1.
func reached(stageList []domain.Stage) int {
	highest := -1
	for i, stage := range stageList {
		if stage.Status == domain.StageStatusActive || stage.Status == domain.StageStatusCompleted {
			highest = i
		}
	}
	return highest
}

// Apply derives a new stage list from a status event.
//
// Only running events naming a known stage move the list: lower ordinals
// become completed, the named stage becomes active with the event's
// progress (zero when absent), higher ordinals stay pending. Events with
// an unknown or absent stage leave the list untouched, and events naming
// a stage below the highest one already reached are stale and ignored,
// so the active ordinal never decreases.
func Apply(stageList []domain.Stage, event domain.StatusEvent) []domain.Stage {
	if event.Status != domain.JobStatusRunning {
		return stageList
	}

	target := ordinal(event.Stage)
	if target == -1 {
		return stageList
	}
	if target < reached(stageList) {
		return stageList
	}

	progress := 0
	if event.Progress != nil {
		progress = clampProgress(*event.Progress)
	}

	out := make([]domain.Stage, len(stageList))
	copy(out, stageList)
	for i := range out {
		switch {
		case i < target:
			out[i].Status = domain.StageStatusCompleted
			out[i].Progress = 100
		case i == target:
			out[i].Status = domain.StageStatusActive
			out[i].Progress = progress
		default:
			out[i].Status = domain.StageStatusPending
			out[i].Progress = 0
		}
	}
	return out
}

// CompleteAll marks every stage completed at full progress. Idempotent.
func CompleteAll(stageList []domain.Stage) []domain.Stage {
	out := make([]domain.Stage, len(stageList))
	copy(out, stageList)
	for i := range out {
		out[i].Status = domain.StageStatusCompleted
		out[i].Progress = 100
	}
	return out
}

// ActiveID returns the id of the active stage, or empty when none.
func ActiveID(stageList []domain.Stage) string {
	for _, stage := range stageList {
		if stage.Status == domain.StageStatusActive {
			return stage.ID
		}
	}
	return ""
}

// clampProgress keeps reported progress within the displayable range.
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
