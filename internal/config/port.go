package config

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidPortError is returned when operator supplied port text is not a
// UDP port in 1..65535.
type InvalidPortError struct {
	Input  string
	Reason string
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("invalid port %q: %s", e.Input, e.Reason)
}

// ParsePort validates operator input such as "5000". Surrounding
// whitespace is ignored.
func ParsePort(text string) (int, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, &InvalidPortError{Input: text, Reason: "empty"}
	}
	port, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, &InvalidPortError{Input: text, Reason: "not a number"}
	}
	if !validPort(port) {
		return 0, &InvalidPortError{Input: text, Reason: "must be between 1 and 65535"}
	}
	return port, nil
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
