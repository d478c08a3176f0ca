// Package monitoring holds the package-level diagnostic logger shared
// by the evaluation pool and the fit driver.
package monitoring

import "log"

// Logf is the diagnostic logger. It defaults to log.Printf; tests and
// embedding programs can redirect or mute it with SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
