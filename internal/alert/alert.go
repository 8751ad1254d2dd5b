// Package alert classifies readings and keeps the list of recorded alerts.
package alert

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/srg/vibro/internal/reading"
	"github.com/srg/vibro/internal/settings"
)

// Severity is the fixed banding of a vibration value.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// Band edges: values below LowBelow are low, values below HighFrom are moderate.
const (
	LowBelow = 30
	HighFrom = 70
)

// Classify maps a value to its severity band. Bands do not depend on the user threshold.
func Classify(value int) Severity {
	switch {
	case value < LowBelow:
		return SeverityLow
	case value < HighFrom:
		return SeverityModerate
	default:
		return SeverityHigh
	}
}

// Exceeded reports whether value is strictly above threshold.
func Exceeded(value, threshold int) bool {
	return value > threshold
}

// Evaluation is the outcome of checking one reading against the current settings.
type Evaluation struct {
	Severity Severity `json:"severity"`
	Exceeded bool     `json:"exceeded"`
}

// Evaluate classifies r and checks it against cfg.Threshold.
func Evaluate(r reading.Reading, cfg settings.Config) Evaluation {
	return Evaluation{
		Severity: Classify(r.Value),
		Exceeded: Exceeded(r.Value, cfg.Threshold),
	}
}

// Alert is a recorded excursion. Time is the local HH:MM of the reading.
type Alert struct {
	ID       string   `json:"id"`
	Time     string   `json:"time"`
	Value    int      `json:"value"`
	Severity Severity `json:"severity"`
}

// TimeLayout is the display layout of Alert.Time.
const TimeLayout = "15:04"

// New materializes an alert for r with a fresh time-ordered ID.
func New(r reading.Reading) (Alert, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Alert{}, fmt.Errorf("generate alert id: %w", err)
	}
	return Alert{
		ID:       id.String(),
		Time:     r.Time().Local().Format(TimeLayout),
		Value:    r.Value,
		Severity: Classify(r.Value),
	}, nil
}

// String renders an alert as a single line.
func (a Alert) String() string {
	return fmt.Sprintf("%s  %s  %3d  %s", a.ID, a.Time, a.Value, a.Severity)
}
