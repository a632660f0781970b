package project

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ValidateReconcileInput validates fields required to reconcile a directory.
func ValidateReconcileInput(in ReconcileInput) error {
	if strings.TrimSpace(in.Path) == "" || !filepath.IsAbs(in.Path) {
		return ErrInvalidInput
	}
	if strings.TrimSpace(in.Fingerprint) == "" {
		return ErrInvalidInput
	}
	return nil
}

// ValidateTransition validates a requested status change.
func ValidateTransition(from, to Status) error {
	if from == StatusRemoved {
		return ErrInvalidTransition
	}
	if to == StatusRemoved {
		return nil
	}

	valid := false
	switch from {
	case StatusDiscovered:
		valid = to == StatusEnriching
	case StatusEnriching:
		switch to {
		case StatusReady, StatusStale, StatusError:
			valid = true
		case StatusDiscovered:
			// A claim released before anything was ever committed.
			valid = true
		}
	case StatusReady:
		valid = to == StatusStale
	case StatusStale:
		valid = to == StatusEnriching
	case StatusError:
		valid = to == StatusEnriching
	}

	if !valid {
		return ErrInvalidTransition
	}
	return nil
}

// Claimable reports whether a worker may claim a record in this status.
func Claimable(s Status) bool {
	switch s {
	case StatusDiscovered, StatusStale, StatusError:
		return true
	}
	return false
}

// ClaimableStatuses returns every status Claimable accepts, in lifecycle order.
func ClaimableStatuses() []Status {
	var out []Status
	for _, s := range Statuses {
		if Claimable(s) {
			out = append(out, s)
		}
	}
	return out
}

// ValidArtifacts checks the confidence invariant: defined only when a command was resolved.
func ValidArtifacts(a Artifacts) error {
	switch a.LaunchMethod {
	case MethodHeuristic, MethodAIPrimary, MethodAIAlternative, MethodCustomScript:
		if a.LaunchConfidence == nil || *a.LaunchConfidence < 0 || *a.LaunchConfidence > 1 {
			return ErrInvalidInput
		}
	case MethodUnresolved:
		if a.LaunchConfidence != nil {
			return ErrInvalidInput
		}
	default:
		return ErrInvalidInput
	}
	return nil
}

// ParseStatus parses a user-supplied status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Statuses, st) {
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}
