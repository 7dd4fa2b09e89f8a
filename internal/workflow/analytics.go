package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/recallbox/recallbox/internal/store"
)

// Staleness thresholds used by analytics and suggestions.
const (
	StaleTodoAfter        = 14 * 24 * time.Hour
	LongRunningAfter      = 7 * 24 * time.Hour
	BlockedAttentionAfter = 3 * 24 * time.Hour
)

// Analytics summarizes task flow over a time range.
type Analytics struct {
	Range              string         `json:"range"`
	Project            string         `json:"project,omitempty"`
	Totals             map[string]int `json:"totals_by_status"`
	CompletionRate     float64        `json:"completion_rate"`
	AvgInProgressHours float64        `json:"avg_in_progress_hours"`
	BacklogAgeP50Days  float64        `json:"backlog_age_p50_days"`
	BacklogAgeP90Days  float64        `json:"backlog_age_p90_days"`
	StaleTodo          int            `json:"stale_todo"`
	LongRunning        int            `json:"long_running_in_progress"`
	BlockedAttention   int            `json:"blocked_needing_attention"`
	ThroughputPerDay   float64        `json:"throughput_per_day"`
	WorkInProgress     int            `json:"work_in_progress"`
	FocusScore         float64        `json:"focus_score"`
}

// rangeDuration maps the named ranges to durations.
func rangeDuration(name string) (time.Duration, error) {
	switch name {
	case "day":
		return 24 * time.Hour, nil
	case "week", "":
		return 7 * 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	case "quarter":
		return 90 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: unknown range %q (want day|week|month|quarter)", store.ErrInvalidInput, name)
	}
}

// Analyze computes status analytics from file timestamps and the capped
// transition history each task carries in its front matter.
func (e *Engine) Analyze(ctx context.Context, rangeName, project string) (*Analytics, error) {
	window, err := rangeDuration(rangeName)
	if err != nil {
		return nil, err
	}
	if rangeName == "" {
		rangeName = "week"
	}

	tasks, err := e.Tasks.List(ctx, project, "", 0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := now.Add(-window)

	a := &Analytics{
		Range:   rangeName,
		Project: project,
		Totals:  map[string]int{},
	}

	var (
		completedInWindow int
		inProgressHours   []float64
		backlogAgesDays   []float64
		focusWeighted     float64
		focusTotal        float64
	)

	for _, t := range tasks {
		a.Totals[t.Status]++

		switch t.Status {
		case store.StatusTodo:
			age := now.Sub(lastChange(t))
			backlogAgesDays = append(backlogAgesDays, age.Hours()/24)
			if age > StaleTodoAfter {
				a.StaleTodo++
			}
		case store.StatusInProgress:
			a.WorkInProgress++
			if started := enteredStatus(t, store.StatusInProgress); !started.IsZero() && now.Sub(started) > LongRunningAfter {
				a.LongRunning++
			}
		case store.StatusBlocked:
			if entered := enteredStatus(t, store.StatusBlocked); !entered.IsZero() && now.Sub(entered) > BlockedAttentionAfter {
				a.BlockedAttention++
			}
		case store.StatusDone:
			if t.Completed != nil && t.Completed.After(cutoff) {
				completedInWindow++
			}
			if hours, ok := timeInProgress(t); ok {
				inProgressHours = append(inProgressHours, hours)
			}
		}

		// Focus: share of active attention on non-low priorities.
		if t.Status == store.StatusInProgress || t.Status == store.StatusDone {
			focusTotal++
			if t.Priority != store.PriorityLow {
				focusWeighted++
			}
		}
	}

	total := len(tasks)
	if total > 0 {
		a.CompletionRate = float64(a.Totals[store.StatusDone]) / float64(total)
	}
	if len(inProgressHours) > 0 {
		sum := 0.0
		for _, h := range inProgressHours {
			sum += h
		}
		a.AvgInProgressHours = sum / float64(len(inProgressHours))
	}
	a.BacklogAgeP50Days = percentile(backlogAgesDays, 0.5)
	a.BacklogAgeP90Days = percentile(backlogAgesDays, 0.9)
	a.ThroughputPerDay = float64(completedInWindow) / (window.Hours() / 24)
	if focusTotal > 0 {
		a.FocusScore = focusWeighted / focusTotal
	}
	return a, nil
}

// lastChange is the most recent recorded transition, falling back to the
// updated timestamp.
func lastChange(t *store.Task) time.Time {
	if n := len(t.History); n > 0 {
		return t.History[n-1].At
	}
	if !t.Updated.IsZero() {
		return t.Updated
	}
	return t.Created
}

// enteredStatus finds when the task last moved into the given status.
func enteredStatus(t *store.Task, status string) time.Time {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].To == status {
			return t.History[i].At
		}
	}
	if t.Status == status {
		return t.Updated
	}
	return time.Time{}
}

// timeInProgress derives the in_progress duration for a completed task from
// its transition log.
func timeInProgress(t *store.Task) (float64, bool) {
	started := enteredStatus(t, store.StatusInProgress)
	if started.IsZero() || t.Completed == nil {
		return 0, false
	}
	d := t.Completed.Sub(started)
	if d < 0 {
		return 0, false
	}
	return d.Hours(), true
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
