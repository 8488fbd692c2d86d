// Package planner implements the rule-based study schedule generator.
//
// Scheduling follows four rules, applied in order each day:
//  1. Subjects with exams in less than 5 days get at least 2 hours per day.
//  2. High importance subjects are studied daily.
//  3. Low importance subjects are studied only after high and medium are covered.
//  4. Each subject gets a revision pass a configurable number of days before
//     its exam.
package planner

import (
	"context"
	"math"

	"studyplan/models"
)

// topicState tracks scheduling progress for one topic.
type topicState struct {
	name           string
	hoursNeeded    float64
	remainingHours float64
	difficulty     int
	completed      bool
}

// subjectState tracks scheduling progress for one subject.
type subjectState struct {
	name              string
	examDate          *models.Date
	importance        string
	topics            []*topicState
	currentTopicIndex int
	needsRevision     bool
	revisionCompleted bool
	subjectCompleted  bool
}

// GeneratePlan produces a study plan for a validated request. The context is
// checked once per scheduled day so oversized date ranges can be abandoned
// when the caller goes away.
func GeneratePlan(ctx context.Context, req *models.StudyPlanRequest) (*models.StudyPlanResponse, error) {
	subjects := req.Subjects
	prefs := req.Preferences

	// Hours needed: estimated topic hours, plus half again for revision when
	// the subject has an exam date.
	totalHoursNeeded := 0.0
	for i := range subjects {
		subjectHours := 0.0
		for _, topic := range subjects[i].Topics {
			subjectHours += topic.EstimatedHours
		}
		if subjects[i].ExamDate != nil {
			subjectHours += subjectHours * 0.5
		}
		totalHoursNeeded += subjectHours
	}

	// Hours available across the date range, skipping break days.
	availableHours := 0.0
	for current := req.StartDate; !current.After(req.EndDate.Time); current = current.AddDays(1) {
		if isBreakDay(prefs.BreakDays, current) {
			continue
		}
		if current.IsWeekend() {
			availableHours += prefs.WeekendHours
		} else {
			availableHours += prefs.WeekdayHours
		}
	}

	insufficientTime := availableHours < totalHoursNeeded

	days, unallocated, err := buildSchedule(ctx, subjects, req.StartDate, req.EndDate, prefs)
	if err != nil {
		return nil, err
	}

	totalStudyHours := 0.0
	distribution := make(map[string]float64)
	for _, day := range days {
		for _, session := range day.Sessions {
			totalStudyHours += session.DurationHours
			distribution[session.Subject] += session.DurationHours
		}
	}

	return &models.StudyPlanResponse{
		Days:                 days,
		TotalStudyHours:      totalStudyHours,
		SubjectsDistribution: distribution,
		InsufficientTime:     insufficientTime,
		TotalHoursNeeded:     totalHoursNeeded,
		AvailableHours:       availableHours,
		UnallocatedTopics:    unallocated,
	}, nil
}

func buildSchedule(ctx context.Context, subjects []models.Subject, startDate, endDate models.Date, prefs *models.StudyPreferences) ([]models.StudyDay, []models.UnallocatedTopic, error) {
	days := make([]models.StudyDay, 0)
	unallocated := make([]models.UnallocatedTopic, 0)

	// Scheduling state starts fresh: topics are treated as not yet studied
	// even when the request marks them completed.
	state := make([]*subjectState, 0, len(subjects))
	for i := range subjects {
		topics := make([]*topicState, 0, len(subjects[i].Topics))
		for _, topic := range subjects[i].Topics {
			topics = append(topics, &topicState{
				name:           topic.Name,
				hoursNeeded:    topic.EstimatedHours,
				remainingHours: topic.EstimatedHours,
				difficulty:     topic.Difficulty,
			})
		}
		state = append(state, &subjectState{
			name:          subjects[i].Name,
			examDate:      subjects[i].ExamDate,
			importance:    subjects[i].Importance,
			topics:        topics,
			needsRevision: subjects[i].ExamDate != nil,
		})
	}

	for current := startDate; !current.After(endDate.Time); current = current.AddDays(1) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if isBreakDay(prefs.BreakDays, current) {
			continue
		}

		// High importance subjects already covered today.
		highCovered := make(map[string]bool)

		availableHours := prefs.WeekdayHours
		if current.IsWeekend() {
			availableHours = prefs.WeekendHours
		}

		daySessions := make([]models.StudySession, 0)
		hoursLeft := availableHours
		currentTime := models.NewClockTime(9, 0)

		// Rule 1: subjects with exams in less than five days come first.
		for _, subject := range state {
			if subject.examDate == nil || subject.subjectCompleted {
				continue
			}
			daysToExam := subject.examDate.DaysSince(current)
			if daysToExam < 0 || daysToExam >= 5 {
				continue
			}
			if hoursLeft < 0.5 {
				break
			}
			target := min(2.0, hoursLeft)

			if isRevisionDay(subject, current, prefs.RevisionDaysBefore) {
				// Rule 4: full revision before the exam.
				used, next := addRevisionSession(subject, current, currentTime, target, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
				hoursLeft -= used
				currentTime = next
				subject.revisionCompleted = true
			} else {
				used, next := addRegularSession(subject, current, currentTime, target, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
				hoursLeft -= used
				currentTime = next
			}
			if subject.importance == models.ImportanceHigh {
				highCovered[subject.name] = true
			}
		}

		// Rule 2: high importance subjects get daily coverage.
		for _, subject := range state {
			if subject.importance != models.ImportanceHigh || subject.subjectCompleted || highCovered[subject.name] {
				continue
			}
			if hoursLeft < 0.5 {
				break
			}
			target := min(1.0, hoursLeft)

			if isRevisionDay(subject, current, prefs.RevisionDaysBefore) {
				used, next := addRevisionSession(subject, current, currentTime, target, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
				hoursLeft -= used
				currentTime = next
				subject.revisionCompleted = true
				continue
			}

			used, next := addRegularSession(subject, current, currentTime, target, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
			hoursLeft -= used
			currentTime = next
			highCovered[subject.name] = true
		}

		// Rule 3: medium importance before low.
		for _, subject := range state {
			if subject.importance != models.ImportanceMedium || subject.subjectCompleted {
				continue
			}
			if hoursLeft < 0.5 {
				break
			}

			if isRevisionDay(subject, current, prefs.RevisionDaysBefore) {
				used, next := addRevisionSession(subject, current, currentTime, hoursLeft, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
				hoursLeft -= used
				currentTime = next
				subject.revisionCompleted = true
				continue
			}

			used, next := addRegularSession(subject, current, currentTime, hoursLeft, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
			hoursLeft -= used
			currentTime = next
		}

		// Rule 3 continued: low importance subjects last.
		for _, subject := range state {
			if subject.importance != models.ImportanceLow || subject.subjectCompleted {
				continue
			}
			if hoursLeft < 0.5 {
				break
			}

			if isRevisionDay(subject, current, prefs.RevisionDaysBefore) {
				used, next := addRevisionSession(subject, current, currentTime, hoursLeft, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
				hoursLeft -= used
				currentTime = next
				subject.revisionCompleted = true
				continue
			}

			used, next := addRegularSession(subject, current, currentTime, hoursLeft, prefs.SessionDuration, prefs.BreakDuration, &daySessions)
			hoursLeft -= used
			currentTime = next
		}

		if len(daySessions) > 0 {
			days = append(days, models.StudyDay{Date: current, Sessions: daySessions})
		}

		// Completion sweep runs against the next day, so a subject closes out
		// the evening of its exam day.
		next := current.AddDays(1)
		for _, subject := range state {
			if subject.subjectCompleted {
				continue
			}
			allTopicsDone := true
			for _, topic := range subject.topics {
				if topic.remainingHours > 0.01 && !topic.completed {
					allTopicsDone = false
					break
				}
			}
			examPassed := subject.examDate != nil && subject.examDate.Before(next.Time)
			if examPassed || (allTopicsDone && (subject.revisionCompleted || !subject.needsRevision)) {
				subject.subjectCompleted = true
				for _, topic := range subject.topics {
					if topic.remainingHours > 0.01 && !topic.completed {
						unallocated = append(unallocated, models.UnallocatedTopic{
							Subject:        subject.name,
							Topic:          topic.name,
							HoursRemaining: math.Round(topic.remainingHours*10) / 10,
						})
					}
				}
			}
		}
	}

	return days, unallocated, nil
}

func isBreakDay(breakDays []models.Date, d models.Date) bool {
	for _, b := range breakDays {
		if b.SameDay(d) {
			return true
		}
	}
	return false
}

func isRevisionDay(subject *subjectState, current models.Date, revisionDaysBefore int) bool {
	if subject.examDate == nil || subject.revisionCompleted {
		return false
	}
	return current.SameDay(subject.examDate.AddDays(-revisionDaysBefore))
}

// addRegularSession schedules one block of work on the subject's current
// topic. It returns the hours consumed (including a trailing break when more
// time remains) and the clock time after the session.
func addRegularSession(subject *subjectState, date models.Date, start models.ClockTime, availableHours, maxSession, breakDur float64, sessions *[]models.StudySession) (float64, models.ClockTime) {
	if subject.subjectCompleted {
		return 0, start
	}

	for subject.currentTopicIndex < len(subject.topics) {
		topic := subject.topics[subject.currentTopicIndex]
		if topic.remainingHours <= 0.01 || topic.completed {
			subject.currentTopicIndex++
			continue
		}

		duration := min(maxSession, availableHours, topic.remainingHours)
		end := start.AddHours(duration)

		*sessions = append(*sessions, models.StudySession{
			Subject:       subject.name,
			Topic:         topic.name,
			Date:          date,
			StartTime:     start,
			EndTime:       end,
			DurationHours: duration,
			SessionType:   models.SessionRegular,
		})

		topic.remainingHours -= duration
		if topic.remainingHours <= 0.01 {
			topic.completed = true
			subject.currentTopicIndex++
		}

		// Charge for a break only when time remains after this session.
		if availableHours-duration > 0.01 {
			return duration + breakDur, end.AddHours(breakDur)
		}
		return duration, end
	}

	// All topics complete.
	subject.subjectCompleted = true
	return 0, start
}

// addRevisionSession schedules short review blocks across the subject's first
// topics, at most five per pass and half an hour each. Revision counts as
// complete once at least three topics (or all of them, when fewer) were
// revised.
func addRevisionSession(subject *subjectState, date models.Date, start models.ClockTime, availableHours, maxSession, breakDur float64, sessions *[]models.StudySession) (float64, models.ClockTime) {
	if subject.revisionCompleted || subject.subjectCompleted {
		return 0, start
	}

	hoursUsed := 0.0
	remaining := availableHours
	cur := start

	totalTopics := 0
	for _, topic := range subject.topics {
		if !topic.completed {
			totalTopics++
		}
	}
	topicsToRevise := min(totalTopics, 5)
	if topicsToRevise == 0 {
		return 0, start
	}

	timePerTopic := min(0.5, remaining/float64(topicsToRevise))

	topicIndex := 0
	topicsRevised := 0
	for topicIndex < len(subject.topics) && topicsRevised < topicsToRevise && remaining > 0.1 {
		topic := subject.topics[topicIndex]

		duration := min(maxSession, remaining, timePerTopic)
		if duration < 0.1 {
			topicIndex++
			continue
		}

		end := cur.AddHours(duration)
		*sessions = append(*sessions, models.StudySession{
			Subject:       subject.name,
			Topic:         "Revision: " + topic.name,
			Date:          date,
			StartTime:     cur,
			EndTime:       end,
			DurationHours: duration,
			SessionType:   models.SessionRevision,
		})

		hoursUsed += duration
		remaining -= duration
		topicsRevised++
		topicIndex++

		if remaining > 0.1 {
			cur = end.AddHours(breakDur)
			hoursUsed += breakDur
			remaining -= breakDur
		} else {
			cur = end
		}
	}

	if topicsRevised >= min(3, totalTopics) {
		subject.revisionCompleted = true
	}
	return hoursUsed, cur
}
