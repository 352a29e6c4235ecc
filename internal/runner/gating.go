package runner

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"Solar/internal/blackboard"

	"github.com/spf13/cast"
)

// Behavior selects when a runner performs its work cycle.
type Behavior string

const (
	BehaviorContinuous Behavior = "continuous"
	BehaviorScheduled  Behavior = "scheduled"
	BehaviorTriggered  Behavior = "triggered"
)

const scheduleLayout = "15:04"

// Policy is the execution gate evaluated before every loop iteration.
type Policy struct {
	Behavior         Behavior
	ScheduleTime     string
	TriggerCondition map[string]any
}

// Validate checks that the policy has the fields its behavior needs.
func (p Policy) Validate() error {
	switch p.Behavior {
	case BehaviorContinuous:
		return nil
	case BehaviorScheduled:
		if _, err := normalizeSchedule(p.ScheduleTime); err != nil {
			return fmt.Errorf("schedule_time must be HH:MM, got %q", p.ScheduleTime)
		}
		return nil
	case BehaviorTriggered:
		if len(p.TriggerCondition) == 0 {
			return fmt.Errorf("trigger_condition is required for triggered runners")
		}
		return nil
	default:
		return fmt.Errorf("run_behavior must be one of continuous, scheduled, triggered, got %q", p.Behavior)
	}
}

// normalizeSchedule parses s as a wall-clock time and returns it in the
// two-digit form produced by time.Format, so "9:05" becomes "09:05".
func normalizeSchedule(s string) (string, error) {
	t, err := time.Parse(scheduleLayout, strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return t.Format(scheduleLayout), nil
}

// ShouldExecute reports whether a loop iteration at now performs work.
//
// Scheduled policies are a level check on the wall-clock minute: with an
// interval shorter than a minute the work cycle repeats for as long as the
// minute matches.
//
// Triggered policies fail closed: a nil board, a missing key, a mismatching
// value or a board error all mean "skip".
func (p Policy) ShouldExecute(ctx context.Context, now time.Time, board blackboard.Reader) bool {
	switch p.Behavior {
	case BehaviorContinuous:
		return true
	case BehaviorScheduled:
		at, err := normalizeSchedule(p.ScheduleTime)
		return err == nil && now.Format(scheduleLayout) == at
	case BehaviorTriggered:
		if board == nil || len(p.TriggerCondition) == 0 {
			return false
		}
		for key, want := range p.TriggerCondition {
			got, ok, err := board.Get(ctx, key)
			if err != nil || !ok {
				return false
			}
			if !valuesEqual(got, want) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// valuesEqual compares configuration values with blackboard values. Numbers
// are compared by value since YAML and JSON disagree on int vs float.
func valuesEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, errA := cast.ToFloat64E(a)
		fb, errB := cast.ToFloat64E(b)
		return errA == nil && errB == nil && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
