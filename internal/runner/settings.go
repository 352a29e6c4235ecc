package runner

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	DefaultInterval = time.Second
)

// Settings are the framework-level fields of a runner configuration block.
// Type-specific fields stay in Raw and are decoded by the concrete runner.
type Settings struct {
	Type                string         `mapstructure:"type"`
	Label               string         `mapstructure:"label"`
	Enabled             bool           `mapstructure:"enabled"`
	MeasurementInterval time.Duration  `mapstructure:"measurement_interval"`
	RunBehavior         Behavior       `mapstructure:"run_behavior"`
	TriggerCondition    map[string]any `mapstructure:"trigger_condition"`
	ScheduleTime        string         `mapstructure:"schedule_time"`
	MaxErrors           int            `mapstructure:"max_errors"`

	Raw map[string]any `mapstructure:"-"`
}

// DecodeSettings builds Settings from a raw configuration block, applying
// defaults for absent fields.
func DecodeSettings(raw map[string]any) (Settings, error) {
	s := Settings{
		Enabled:             true,
		MeasurementInterval: DefaultInterval,
		RunBehavior:         BehaviorContinuous,
		MaxErrors:           3,
	}
	if err := decode(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	s.Raw = raw

	if s.MeasurementInterval <= 0 {
		return Settings{}, fmt.Errorf("%w: measurement_interval must be > 0", ErrInvalidConfig)
	}
	if _, err := s.Policy(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Decode decodes the raw configuration block into out, using the same
// conversion rules as DecodeSettings.
func (s Settings) Decode(out any) error {
	if err := decode(s.Raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Policy returns the gating policy described by the settings.
func (s Settings) Policy() (Policy, error) {
	p := Policy{
		Behavior:         s.RunBehavior,
		ScheduleTime:     s.ScheduleTime,
		TriggerCondition: s.TriggerCondition,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.Behavior == BehaviorScheduled {
		p.ScheduleTime, _ = normalizeSchedule(p.ScheduleTime)
	}
	return p, nil
}

func decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       secondsToDurationHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// secondsToDurationHook accepts plain numbers as seconds ("measurement_interval: 0.5")
// as well as Go duration strings ("500ms").
func secondsToDurationHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}

	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if _, ok := data.(time.Duration); ok {
			return data, nil
		}
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
	case reflect.String:
		str := data.(string)
		if d, err := time.ParseDuration(str); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", str)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return data, nil
}
