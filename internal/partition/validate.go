package partition

import (
	"fmt"
	"strings"
)

// ValidationResult contains the outcome of plan validation.
type ValidationResult struct {
	Passed bool
	Errors []string
}

// Err folds the result into a single error, or nil when it passed.
func (v ValidationResult) Err() error {
	if v.Passed {
		return nil
	}
	return fmt.Errorf("invalid partition plan: %s", strings.Join(v.Errors, "; "))
}

// Validate checks that ranges are ordered, contiguous, disjoint and cover
// exactly [0, total).
func Validate(ranges []Range, total int64) ValidationResult {
	result := ValidationResult{Passed: true}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		result.Passed = false
	}

	if len(ranges) == 0 {
		fail("no ranges")
		return result
	}

	if ranges[0].Start != 0 {
		fail("first range starts at %d, expected 0", ranges[0].Start)
	}

	var sum int64
	for i, r := range ranges {
		if r.Worker != i {
			fail("range %d assigned to worker %d", i, r.Worker)
		}
		if r.Length < 0 {
			fail("range %d has negative length %d", i, r.Length)
		}
		if i > 0 && r.Start != ranges[i-1].End() {
			fail("gap or overlap between range %d (end %d) and range %d (start %d)",
				i-1, ranges[i-1].End(), i, r.Start)
		}
		sum += r.Length
	}

	if sum != total {
		fail("ranges cover %d, expected %d", sum, total)
	}
	if last := ranges[len(ranges)-1]; last.End() != total {
		fail("last range ends at %d, expected %d", last.End(), total)
	}
	return result
}
