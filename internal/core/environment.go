package core

import "strings"

// Environment is where the assistant runs. It picks log format, default log
// level and the HTTP server mode.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

func (e Environment) IsProduction() bool {
	return e == Production
}

// DefaultLogLevel is used when LOG_LEVEL is unset.
func (e Environment) DefaultLogLevel() string {
	switch e {
	case Production, Staging:
		return "info"
	case Testing:
		return "warn"
	default:
		return "debug"
	}
}

// ServerMode maps the environment onto gin's debug/release/test modes.
func (e Environment) ServerMode() string {
	switch e {
	case Production, Staging:
		return "release"
	case Testing:
		return "test"
	default:
		return "debug"
	}
}

// ParseEnvironment accepts the full names and their short forms. Anything
// else is Development.
func ParseEnvironment(v string) Environment {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "testing", "test":
		return Testing
	default:
		return Development
	}
}
