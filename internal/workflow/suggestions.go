package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/recallbox/recallbox/internal/store"
)

// Suggestion is a single piece of automation advice derived from the current
// task state.
type Suggestion struct {
	Type    string `json:"type"`
	Task    string `json:"task,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// wipComfortLimit is the in_progress count above which the engine suggests
// finishing before starting.
const wipComfortLimit = 5

// Suggest inspects the task set and returns automation advice: stale backlog
// items, long-running work, blocked tasks needing attention, and WIP
// overload.
func (e *Engine) Suggest(ctx context.Context, project string) ([]Suggestion, error) {
	tasks, err := e.Tasks.List(ctx, project, "", 0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []Suggestion
	wip := 0

	for _, t := range tasks {
		switch t.Status {
		case store.StatusTodo:
			if age := now.Sub(lastChange(t)); age > StaleTodoAfter {
				out = append(out, Suggestion{
					Type:  "stale_todo",
					Task:  t.Serial,
					Title: t.Title,
					Message: fmt.Sprintf("%s has sat in todo for %d days; deprioritize it or schedule it",
						t.Serial, int(age.Hours()/24)),
				})
			}
		case store.StatusInProgress:
			wip++
			if started := enteredStatus(t, store.StatusInProgress); !started.IsZero() {
				if age := now.Sub(started); age > LongRunningAfter {
					out = append(out, Suggestion{
						Type:  "long_running",
						Task:  t.Serial,
						Title: t.Title,
						Message: fmt.Sprintf("%s has been in progress for %d days; split it into subtasks or re-scope",
							t.Serial, int(age.Hours()/24)),
					})
				}
			}
		case store.StatusBlocked:
			if entered := enteredStatus(t, store.StatusBlocked); !entered.IsZero() {
				if age := now.Sub(entered); age > BlockedAttentionAfter {
					out = append(out, Suggestion{
						Type:  "blocked_attention",
						Task:  t.Serial,
						Title: t.Title,
						Message: fmt.Sprintf("%s has been blocked for %d days; chase the blocker or move it back to todo",
							t.Serial, int(age.Hours()/24)),
					})
				}
			}
		}
	}

	if wip > wipComfortLimit {
		out = append(out, Suggestion{
			Type:    "wip_overload",
			Message: fmt.Sprintf("%d tasks are in progress at once; finish or park some before starting more", wip),
		})
	}
	return out, nil
}
