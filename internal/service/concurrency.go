package service

import (
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// CheckVersion compares the caller's expected version with the stored one.
// A nil expectation skips the check.
func CheckVersion(current int, expected *int) error {
	if expected == nil || *expected == current {
		return nil
	}
	return apperrors.NewVersionConflict(current)
}
