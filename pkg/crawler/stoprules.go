package crawler

import (
	"fmt"
	"strings"

	"github.com/PentesterFlow/pagewalker/internal/errors"
	"github.com/PentesterFlow/pagewalker/internal/scope"
	"github.com/PentesterFlow/pagewalker/internal/selector"
)

// checkBeforeFetch applies the pre-fetch stop rules in their fixed order:
// visited, then max pages, then domain. A loop back to a visited URL that is
// also out of domain therefore reports already-visited-url.
func checkBeforeFetch(s *session, rules StopRules, guard *scope.Guard) (StopReason, bool) {
	if rules.StopWhenURLVisited && s.visited.Has(scope.VisitKey(s.current)) {
		return StopAlreadyVisited, true
	}
	if len(s.pages) >= rules.MaxPages {
		return StopMaxPages, true
	}
	if !guard.Allows(s.current) {
		return StopOutOfDomain, true
	}
	return "", false
}

func errorThresholdReached(consecutive int, rules StopRules) bool {
	return consecutive >= rules.MaxConsecutiveErrors
}

// resolveNext turns the raw pagination value into the next URL to fetch.
// ok is false when there is nothing to follow.
func resolveNext(currentURL, value string, extractErr error) (string, bool) {
	if extractErr != nil {
		return "", false
	}
	next, ok := scope.ResolveNext(currentURL, value)
	if !ok || !scope.IsFetchable(next) {
		return "", false
	}
	return next, true
}

// validateRequest rejects requests that cannot be run without fetching
// anything.
func validateRequest(req Request) (FailureReason, error) {
	if strings.TrimSpace(req.ContentRule.Selector) == "" {
		return FailMissingSelectorRule, errors.NewConfigError("content selector rule is missing")
	}
	if strings.TrimSpace(req.PaginationRule.Selector) == "" {
		return FailMissingSelectorRule, errors.NewConfigError("pagination selector rule is missing")
	}

	if err := selector.Compile(req.ContentRule.Query()); err != nil {
		return FailInvalidConfig, errors.New(errors.Config, "", "validate", "invalid content rule", err)
	}
	if err := selector.Compile(req.PaginationRule.Query()); err != nil {
		return FailInvalidConfig, errors.New(errors.Config, "", "validate", "invalid pagination rule", err)
	}

	start := strings.TrimSpace(req.StartURL)
	if start == "" {
		return FailInvalidConfig, errors.NewConfigError("start URL is required")
	}
	if !scope.IsFetchable(start) {
		return FailInvalidConfig, errors.NewConfigError(fmt.Sprintf("start URL %q is not an absolute http(s) URL", start))
	}
	if scope.NormalizeDomain(req.Domain) == "" {
		return FailInvalidConfig, errors.NewConfigError("domain is required")
	}

	if req.StopRules.MaxPages < 1 {
		return FailInvalidConfig, errors.NewConfigError("max pages must be at least 1")
	}
	if req.StopRules.MaxConsecutiveErrors < 1 {
		return FailInvalidConfig, errors.NewConfigError("max consecutive errors must be at least 1")
	}
	return "", nil
}
