// Package expression evaluates boolean conditions written in the expr
// language against the bindings scope of a run.
//
// The scope exposes trigger outputs, step outputs by position and by id,
// run variables and the current loop item:
//
//	trigger.row.status == "open" && len(stepsById.lookup.rows) > 0
//	has(vars.tags, "urgent")
//
// Compiled programs are cached per expression string.
package expression
