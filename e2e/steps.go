package e2e

import (
	"github.com/cucumber/godog"

	"turnstile/e2e/steps/checkin"
	"turnstile/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Generic request and assertion steps
	common.RegisterSteps(ctx, tc)

	// Check-in specific steps
	checkin.RegisterSteps(ctx, tc)
}
