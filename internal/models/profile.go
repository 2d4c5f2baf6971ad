package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Profile is what the user answered during onboarding.
type Profile struct {
	WorkoutDays            int        `json:"workoutDays"` // per week
	WeightGoal             string     `json:"weightGoal"`
	HasCompletedOnboarding bool       `json:"hasCompletedOnboarding"`
	Timestamp              *time.Time `json:"timestamp,omitempty"`
}

// Validate checks the onboarding answers.
func (p *Profile) Validate() error {
	if p == nil {
		return errors.New("nil profile")
	}
	if p.WorkoutDays < 1 || p.WorkoutDays > 7 {
		return fmt.Errorf("workout days must be between 1 and 7, got %d", p.WorkoutDays)
	}
	if strings.TrimSpace(p.WeightGoal) == "" {
		return errors.New("weight goal is required")
	}
	return nil
}
