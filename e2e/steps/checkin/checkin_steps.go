package checkin

import (
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	LastStatus() int
	GetResponseField(field string) (any, error)
	SignedBadge(attendeeID, conferenceID int64, sessionID *int64) string
	SetLastCredential(raw string)
	LastCredential() string
}

// RegisterSteps registers check-in step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &checkinSteps{tc: tc}

	ctx.Step(`^a registration for attendee (\d+) at conference (\d+)$`, steps.createRegistration)
	ctx.Step(`^a registration for attendee (\d+) at conference (\d+) session (\d+)$`, steps.createSessionRegistration)
	ctx.Step(`^I scan a valid badge for attendee (\d+) at conference (\d+)$`, steps.scanValidBadge)
	ctx.Step(`^I scan a valid badge for attendee (\d+) at conference (\d+) session (\d+)$`, steps.scanValidSessionBadge)
	ctx.Step(`^I scan the same badge again$`, steps.rescanBadge)
	ctx.Step(`^I scan a tampered badge for attendee (\d+) at conference (\d+)$`, steps.scanTamperedBadge)
	ctx.Step(`^I check in attendee (\d+) at conference (\d+) manually$`, steps.manualCheckIn)

	ctx.Step(`^the check-in outcome should be "([^"]*)"$`, steps.outcomeShouldBe)
	ctx.Step(`^the rejection reason should be "([^"]*)"$`, steps.reasonShouldBe)
}

type checkinSteps struct {
	tc TestContext
}

func (s *checkinSteps) createRegistration(attendeeID, conferenceID int64) error {
	return s.tc.POST("/registrations", map[string]any{
		"attendee_id":   attendeeID,
		"conference_id": conferenceID,
	})
}

func (s *checkinSteps) createSessionRegistration(attendeeID, conferenceID, sessionID int64) error {
	return s.tc.POST("/registrations", map[string]any{
		"attendee_id":   attendeeID,
		"conference_id": conferenceID,
		"session_id":    sessionID,
	})
}

func (s *checkinSteps) scan(raw string) error {
	s.tc.SetLastCredential(raw)
	return s.tc.POST("/checkin", map[string]any{"credential": raw})
}

func (s *checkinSteps) scanValidBadge(attendeeID, conferenceID int64) error {
	return s.scan(s.tc.SignedBadge(attendeeID, conferenceID, nil))
}

func (s *checkinSteps) scanValidSessionBadge(attendeeID, conferenceID, sessionID int64) error {
	return s.scan(s.tc.SignedBadge(attendeeID, conferenceID, &sessionID))
}

func (s *checkinSteps) rescanBadge() error {
	raw := s.tc.LastCredential()
	if raw == "" {
		return fmt.Errorf("no badge has been scanned yet")
	}
	return s.scan(raw)
}

func (s *checkinSteps) scanTamperedBadge(attendeeID, conferenceID int64) error {
	raw := s.tc.SignedBadge(attendeeID, conferenceID, nil)
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return err
	}
	// Bump the attendee id without re-signing.
	fields["id"] = attendeeID + 1
	tampered, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return s.scan(string(tampered))
}

func (s *checkinSteps) manualCheckIn(attendeeID, conferenceID int64) error {
	return s.tc.POST("/checkin", map[string]any{
		"attendee_id":   attendeeID,
		"conference_id": conferenceID,
	})
}

func (s *checkinSteps) outcomeShouldBe(expected string) error {
	outcome, err := s.tc.GetResponseField("outcome")
	if err != nil {
		return err
	}
	if outcome != expected {
		return fmt.Errorf("expected outcome %q, got %q", expected, outcome)
	}
	return nil
}

func (s *checkinSteps) reasonShouldBe(expected string) error {
	reason, err := s.tc.GetResponseField("reason")
	if err != nil {
		return err
	}
	if reason != expected {
		return fmt.Errorf("expected reason %q, got %q", expected, reason)
	}
	return nil
}
