package env

import "github.com/synthlabs/synth-ledger/common/config"

// IsCI returns true if we are in CI mode.
func IsCI() bool {
	ci := config.GetString("CI", "false")
	return ci == "true"
}

// ResetDatabase returns true if the database should be reset on startup.
func ResetDatabase() bool {
	return config.GetBool("RESET_DATABASE", false)
}
