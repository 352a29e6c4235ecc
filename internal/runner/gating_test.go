package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"Solar/internal/blackboard"
)

type failingBoard struct{}

func (failingBoard) Get(ctx context.Context, key string) (any, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "continuous", policy: Policy{Behavior: BehaviorContinuous}},
		{name: "scheduled", policy: Policy{Behavior: BehaviorScheduled, ScheduleTime: "07:30"}},
		{name: "scheduled single digit hour", policy: Policy{Behavior: BehaviorScheduled, ScheduleTime: "9:05"}},
		{name: "scheduled without time", policy: Policy{Behavior: BehaviorScheduled}, wantErr: true},
		{name: "scheduled bad time", policy: Policy{Behavior: BehaviorScheduled, ScheduleTime: "25:99"}, wantErr: true},
		{name: "triggered", policy: Policy{Behavior: BehaviorTriggered, TriggerCondition: map[string]any{"a": 1}}},
		{name: "triggered without condition", policy: Policy{Behavior: BehaviorTriggered}, wantErr: true},
		{name: "unknown behavior", policy: Policy{Behavior: "sometimes"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicy_ShouldExecute(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 7, 30, 15, 0, time.UTC)

	board := blackboard.New()
	_ = board.Set(ctx, "robot_state", "charging")
	_ = board.Set(ctx, "battery_level", float64(20))

	tests := []struct {
		name   string
		policy Policy
		board  blackboard.Reader
		now    time.Time
		want   bool
	}{
		{
			name:   "continuous always runs",
			policy: Policy{Behavior: BehaviorContinuous},
			now:    at,
			want:   true,
		},
		{
			name:   "scheduled matching minute",
			policy: Policy{Behavior: BehaviorScheduled, ScheduleTime: "07:30"},
			now:    at,
			want:   true,
		},
		{
			name:   "scheduled single digit hour",
			policy: Policy{Behavior: BehaviorScheduled, ScheduleTime: "7:30"},
			now:    at,
			want:   true,
		},
		{
			name:   "scheduled other minute",
			policy: Policy{Behavior: BehaviorScheduled, ScheduleTime: "07:31"},
			now:    at,
			want:   false,
		},
		{
			name:   "triggered all keys match",
			policy: Policy{Behavior: BehaviorTriggered, TriggerCondition: map[string]any{"robot_state": "charging", "battery_level": 20}},
			board:  board,
			now:    at,
			want:   true,
		},
		{
			name:   "triggered value mismatch",
			policy: Policy{Behavior: BehaviorTriggered, TriggerCondition: map[string]any{"robot_state": "mowing"}},
			board:  board,
			now:    at,
			want:   false,
		},
		{
			name:   "triggered missing key",
			policy: Policy{Behavior: BehaviorTriggered, TriggerCondition: map[string]any{"rain": true}},
			board:  board,
			now:    at,
			want:   false,
		},
		{
			name:   "triggered nil board",
			policy: Policy{Behavior: BehaviorTriggered, TriggerCondition: map[string]any{"robot_state": "charging"}},
			now:    at,
			want:   false,
		},
		{
			name:   "triggered board error",
			policy: Policy{Behavior: BehaviorTriggered, TriggerCondition: map[string]any{"robot_state": "charging"}},
			board:  failingBoard{},
			now:    at,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ShouldExecute(ctx, tt.now, tt.board); got != tt.want {
				t.Errorf("ShouldExecute() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSettings_PolicyNormalizesScheduleTime(t *testing.T) {
	s, err := DecodeSettings(map[string]any{
		"type":          "camera",
		"run_behavior":  "scheduled",
		"schedule_time": "9:05",
	})
	if err != nil {
		t.Fatalf("DecodeSettings failed: %v", err)
	}
	p, err := s.Policy()
	if err != nil {
		t.Fatalf("Policy failed: %v", err)
	}
	if p.ScheduleTime != "09:05" {
		t.Errorf("expected schedule time 09:05, got %q", p.ScheduleTime)
	}
	if !p.ShouldExecute(context.Background(), time.Date(2024, 6, 1, 9, 5, 0, 0, time.Local), nil) {
		t.Error("expected scheduled runner to fire at 09:05")
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{a: 1, b: 1.0, want: true},
		{a: int64(3), b: uint8(3), want: true},
		{a: 1, b: 2, want: false},
		{a: "1", b: 1, want: false},
		{a: true, b: true, want: true},
		{a: "charging", b: "charging", want: true},
	}

	for _, tt := range tests {
		if got := valuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("valuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
