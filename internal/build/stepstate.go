package build

import (
	"maps"

	"github.com/cruciblehq/keg/internal/recipe"
)

// Tracks accumulated modifiers during step execution.
//
// State flows linearly through the step list. Modifier steps update the
// state permanently via apply. Run steps read the effective values for a
// single step via resolve without modifying the persistent state.
type stepState struct {
	workdir string
	env     map[string]string
}

// Creates a new [stepState] with default values.
func newStepState() *stepState {
	return &stepState{env: make(map[string]string)}
}

// Persists modifier fields from a step into the state.
func (s *stepState) apply(step recipe.Step) {
	if step.Workdir != "" {
		s.workdir = step.Workdir
	}
	maps.Copy(s.env, step.Env)
}

// Returns a new [stepState] with step-level modifiers overlaid on the
// persistent state. The receiver is not modified.
func (s *stepState) resolve(step recipe.Step) *stepState {
	resolved := &stepState{
		workdir: s.workdir,
		env:     make(map[string]string, len(s.env)+len(step.Env)),
	}
	maps.Copy(resolved.env, s.env)
	maps.Copy(resolved.env, step.Env)

	if step.Workdir != "" {
		resolved.workdir = step.Workdir
	}

	return resolved
}

// Formats the environment as "key=value" strings with placeholders
// expanded.
func (s *stepState) environ(vars recipe.Vars) []string {
	expanded := vars.ExpandEnv(s.env)
	env := make([]string, 0, len(expanded))
	for k, v := range expanded {
		env = append(env, k+"="+v)
	}
	return env
}
