package robustness

import "strings"

// ErrorCategory is a closed taxonomy of tool and LLM failure kinds.
type ErrorCategory string

const (
	ErrorFileNotFound     ErrorCategory = "file_not_found"
	ErrorPermissionDenied ErrorCategory = "permission_denied"
	ErrorSyntax           ErrorCategory = "syntax_error"
	ErrorNetwork          ErrorCategory = "network_error"
	ErrorTimeout          ErrorCategory = "timeout"
	ErrorDependency       ErrorCategory = "dependency_error"
	ErrorUnknown          ErrorCategory = "unknown"
)

// Classification carries the category, its retry budget, and a hint for
// the planner on how to recover.
type Classification struct {
	Category   ErrorCategory
	MaxRetries int
	Strategy   string
}

// rule maps trigger substrings to a classification. Order matters: the
// first matching rule wins.
type rule struct {
	triggers       []string
	classification Classification
}

var rules = []rule{
	{
		triggers: []string{"file not found", "path does not exist"},
		classification: Classification{
			Category: ErrorFileNotFound, MaxRetries: 2, Strategy: "file_discovery",
		},
	},
	{
		triggers: []string{"permission denied", "access denied"},
		classification: Classification{
			Category: ErrorPermissionDenied, MaxRetries: 1, Strategy: "permission_check",
		},
	},
	{
		triggers: []string{"syntax error", "parse error"},
		classification: Classification{
			Category: ErrorSyntax, MaxRetries: 2, Strategy: "syntax_validation",
		},
	},
	{
		triggers: []string{"network", "connection"},
		classification: Classification{
			Category: ErrorNetwork, MaxRetries: 3, Strategy: "retry_with_delay",
		},
	},
	{
		triggers: []string{"timeout"},
		classification: Classification{
			Category: ErrorTimeout, MaxRetries: 2, Strategy: "increase_timeout",
		},
	},
	{
		triggers: []string{"dependency", "import", "module"},
		classification: Classification{
			Category: ErrorDependency, MaxRetries: 1, Strategy: "dependency_resolution",
		},
	},
}

// Classify maps an error message into the taxonomy. Matching is done on
// the lowercased message; unmatched messages classify as unknown with no
// retry budget.
func Classify(message string) Classification {
	lower := strings.ToLower(message)

	for _, r := range rules {
		for _, trigger := range r.triggers {
			if strings.Contains(lower, trigger) {
				return r.classification
			}
		}
	}

	return Classification{Category: ErrorUnknown, MaxRetries: 0, Strategy: "none"}
}

// ClassifyError is a convenience wrapper over Classify for error values.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Category: ErrorUnknown, MaxRetries: 0, Strategy: "none"}
	}
	return Classify(err.Error())
}

// CanRecover reports whether another recovery attempt is within the
// category's budget.
func (c Classification) CanRecover(retryCount int) bool {
	return retryCount < c.MaxRetries
}
