// Package build executes package recipes.
//
// An [Executor] takes one parsed recipe through a fixed pipeline: resolve
// build dependencies, fetch the source archive, verify its checksum,
// extract it into a fresh build directory, run the install steps, copy the
// declared outputs into the prefix, and run the smoke tests. Each execution
// moves through the states Pending, Fetching, Verifying, Building,
// Installing, Testing and Done, or drops to Failed from any of them. The
// [Result] records the outcome, the state path, and every command that ran.
//
// Steps run through a [runtime.Session], on the host or in a container.
// Step state (environment variables and working directory) accumulates
// across modifier steps; env and workdir on a run step apply to that step
// only.
//
// Installs are transactional. Targets are checked for conflicts before any
// file is written, replaced files are set aside, and a failing smoke test
// restores the prefix and the registry to their previous state.
//
// Example usage:
//
//	exec := build.New(build.Config{
//	    Prefix:    prefix,
//	    BuildRoot: paths.Builds(),
//	}, fetcher, runtime.Host{}, store)
//
//	res, err := exec.Install(ctx, r)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Outcome, res.Artifact.Files)
package build
