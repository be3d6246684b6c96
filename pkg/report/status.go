package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the outcome of one pipeline step. The numeric values are part of
// the external report vocabulary and must not change.
type Status int

// Status values.
const (
	StatusSuccess    Status = 0
	StatusBuildError Status = 1
	StatusLoadError  Status = 2
	StatusTestError  Status = 3
	StatusNotRun     Status = 4
)

var statusNames = map[Status]string{
	StatusSuccess:    "SUCCESS",
	StatusBuildError: "BUILD_ERROR",
	StatusLoadError:  "LOAD_ERROR",
	StatusTestError:  "TEST_ERROR",
	StatusNotRun:     "NOT_RUN",
}

// String returns the external name of the status, e.g. "TEST_ERROR".
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// IsFailure reports whether the status halts a pipeline.
func (s Status) IsFailure() bool {
	return s != StatusSuccess && s != StatusNotRun
}

// ParseStatus parses an external status name. Matching is case-insensitive.
func ParseStatus(name string) (Status, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))

	for status, n := range statusNames {
		if n == upper {
			return status, nil
		}
	}

	return StatusNotRun, fmt.Errorf("unknown status %q", name)
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts either the status name or its numeric code.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseStatus(name)
		if err != nil {
			return err
		}

		*s = parsed

		return nil
	}

	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("status must be a name or code: %w", err)
	}

	if _, ok := statusNames[Status(code)]; !ok {
		return fmt.Errorf("unknown status code %d", code)
	}

	*s = Status(code)

	return nil
}
