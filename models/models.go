// Package models defines the study-planner wire types shared by the HTTP
// handlers and the scheduling engine, including their JSON defaults.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Subject importance levels.
const (
	ImportanceHigh   = "High"
	ImportanceMedium = "Medium"
	ImportanceLow    = "Low"
)

// Session types.
const (
	SessionRegular  = "regular"
	SessionRevision = "revision"
)

// Topic is a unit of material within a subject.
type Topic struct {
	Name           string  `json:"name"`
	EstimatedHours float64 `json:"estimated_hours"`
	Difficulty     int     `json:"difficulty"` // 1-5 scale
	Completed      bool    `json:"completed"`
}

// UnmarshalJSON applies field defaults before decoding.
func (t *Topic) UnmarshalJSON(data []byte) error {
	type alias Topic
	tmp := alias{Difficulty: 3}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*t = Topic(tmp)
	return nil
}

// Subject groups topics under one exam or course.
type Subject struct {
	ID         *int    `json:"id,omitempty"`
	Name       string  `json:"name"`
	Topics     []Topic `json:"topics"`
	ExamDate   *Date   `json:"exam_date,omitempty"`
	Importance string  `json:"importance"`
	Difficulty int     `json:"difficulty"` // 1-5 scale
}

// UnmarshalJSON applies field defaults before decoding.
func (s *Subject) UnmarshalJSON(data []byte) error {
	type alias Subject
	tmp := alias{Importance: ImportanceMedium, Difficulty: 3}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*s = Subject(tmp)
	return nil
}

// StudySession is a single scheduled block of work on one topic.
type StudySession struct {
	Subject       string    `json:"subject"`
	Topic         string    `json:"topic"`
	Date          Date      `json:"date"`
	StartTime     ClockTime `json:"start_time"`
	EndTime       ClockTime `json:"end_time"`
	DurationHours float64   `json:"duration_hours"`
	SessionType   string    `json:"session_type"` // regular, revision
}

// StudyDay collects the sessions scheduled for one calendar day.
type StudyDay struct {
	Date     Date           `json:"date"`
	Sessions []StudySession `json:"sessions"`
}

// TimeBlock describes a recurring window of availability.
type TimeBlock struct {
	StartHour int      `json:"start_hour"`
	EndHour   int      `json:"end_hour"`
	Days      []string `json:"days"` // days of week this block applies to
}

// UserProfile carries optional information about the requesting student.
type UserProfile struct {
	Name  string `json:"name,omitempty"`
	Level string `json:"level,omitempty"`
}

// StudyPreferences tunes how the engine fills each day.
type StudyPreferences struct {
	WeekdayHours       float64     `json:"weekday_hours"`
	WeekendHours       float64     `json:"weekend_hours"`
	TimeBlocks         []TimeBlock `json:"time_blocks,omitempty"`
	StudyStyle         string      `json:"study_style"`    // fixed, flexible
	SessionLength      string      `json:"session_length"` // long, pomodoro
	BreakDuration      float64     `json:"break_duration"`   // hours
	SessionDuration    float64     `json:"session_duration"` // hours
	RevisionDaysBefore int         `json:"revision_days_before"`
	WeeklyRevision     bool        `json:"weekly_revision"`
	BreakDays          []Date      `json:"break_days,omitempty"`
}

// UnmarshalJSON applies field defaults before decoding.
func (p *StudyPreferences) UnmarshalJSON(data []byte) error {
	type alias StudyPreferences
	tmp := alias{
		WeekdayHours:       3.0,
		WeekendHours:       5.0,
		StudyStyle:         "flexible",
		SessionLength:      "long",
		BreakDuration:      0.25,
		SessionDuration:    1.5,
		RevisionDaysBefore: 2,
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*p = StudyPreferences(tmp)
	return nil
}

// StudyPlanRequest is the input to plan generation.
type StudyPlanRequest struct {
	UserProfile *UserProfile      `json:"user_profile,omitempty"`
	Subjects    []Subject         `json:"subjects"`
	StartDate   Date              `json:"start_date"`
	EndDate     Date              `json:"end_date"`
	Preferences *StudyPreferences `json:"preferences"`
}

// Validate checks required fields, enumerated values, and numeric bounds
// before a request reaches the scheduling engine. The engine itself tolerates
// degenerate inputs; only the HTTP layer rejects them.
func (r *StudyPlanRequest) Validate() error {
	if len(r.Subjects) == 0 {
		return errors.New("subjects is required")
	}
	if r.StartDate.IsZero() {
		return errors.New("start_date is required")
	}
	if r.EndDate.IsZero() {
		return errors.New("end_date is required")
	}
	if r.EndDate.Time.Before(r.StartDate.Time) {
		return errors.New("end_date must not be before start_date")
	}
	if r.Preferences == nil {
		return errors.New("preferences is required")
	}
	for i := range r.Subjects {
		s := &r.Subjects[i]
		if s.Name == "" {
			return fmt.Errorf("subjects[%d]: name is required", i)
		}
		if s.Topics == nil {
			return fmt.Errorf("subjects[%d]: topics is required", i)
		}
		switch s.Importance {
		case ImportanceHigh, ImportanceMedium, ImportanceLow:
		default:
			return fmt.Errorf("subjects[%d]: importance must be one of High, Medium, Low", i)
		}
		if s.Difficulty < 1 || s.Difficulty > 5 {
			return fmt.Errorf("subjects[%d]: difficulty must be between 1 and 5", i)
		}
		for j := range s.Topics {
			t := &s.Topics[j]
			if t.Name == "" {
				return fmt.Errorf("subjects[%d].topics[%d]: name is required", i, j)
			}
			if t.EstimatedHours <= 0 {
				return fmt.Errorf("subjects[%d].topics[%d]: estimated_hours must be positive", i, j)
			}
			if t.Difficulty < 1 || t.Difficulty > 5 {
				return fmt.Errorf("subjects[%d].topics[%d]: difficulty must be between 1 and 5", i, j)
			}
		}
	}
	switch r.Preferences.StudyStyle {
	case "", "fixed", "flexible":
	default:
		return errors.New("preferences.study_style must be 'fixed' or 'flexible'")
	}
	switch r.Preferences.SessionLength {
	case "", "long", "pomodoro":
	default:
		return errors.New("preferences.session_length must be 'long' or 'pomodoro'")
	}
	return nil
}

// UnallocatedTopic reports material that could not be scheduled before its
// subject closed out.
type UnallocatedTopic struct {
	Subject        string  `json:"subject"`
	Topic          string  `json:"topic"`
	HoursRemaining float64 `json:"hours_remaining"`
}

// StudyPlanResponse is the generated plan.
type StudyPlanResponse struct {
	Days                 []StudyDay         `json:"days"`
	TotalStudyHours      float64            `json:"total_study_hours"`
	SubjectsDistribution map[string]float64 `json:"subjects_distribution"`
	InsufficientTime     bool               `json:"insufficient_time"`
	TotalHoursNeeded     float64            `json:"total_hours_needed"`
	AvailableHours       float64            `json:"available_hours"`
	UnallocatedTopics    []UnallocatedTopic `json:"unallocated_topics"`
}
