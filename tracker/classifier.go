// api/tracker/classifier.go
package tracker

import "wandertrack/api/models"

// TerminationContext records which termination signals were observed for one
// teardown. Several can be set at once when signals fire back to back.
type TerminationContext struct {
	ExternalClick bool
	IdleFired     bool
	Hidden        bool
	Unloading     bool
}

// ClassifyExit maps a termination context to a single exit reason.
// Precedence: explicit external-link click > idle timeout > visibility
// hidden > unload. A deliberate external navigation must not be reported as
// a generic tab close just because the unload signal also fired.
func ClassifyExit(tc TerminationContext) models.ExitReason {
	switch {
	case tc.ExternalClick:
		return models.ExitExternal
	case tc.IdleFired:
		return models.ExitIdleTimeout
	case tc.Hidden:
		return models.ExitTabHidden
	case tc.Unloading:
		return models.ExitTabClose
	default:
		return models.ExitUnknown
	}
}
