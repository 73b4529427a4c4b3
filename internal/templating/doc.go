// Package templating renders `${{ expression }}` placeholders.
//
// Expressions are evaluated by expr in an environment that only contains the
// data handed to the renderer plus the registered filters and globals. Data
// must be JSON shaped (maps, slices, strings, float64, bool, nil); use
// Normalize to convert arbitrary values. Nothing else of the host process is
// reachable from an expression.
package templating
