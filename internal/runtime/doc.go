// Package runtime executes build and test commands.
//
// A [Runner] runs one [Command] and reports its exit code and captured
// output. A [Provider] opens a [Session], a Runner scoped to one recipe
// execution. Two providers exist:
//
// [Host] runs commands directly with os/exec. Each command gets its own
// process group, so cancelling the context kills the command and everything
// it spawned. Commands see a small allowlist of host variables plus their
// overrides.
//
// [Runtime] runs commands inside a containerd container started from a
// configured image. The session's directories are bind-mounted at their
// host paths, so absolute paths mean the same thing inside and outside the
// sandbox. Each command is an additional exec process in the container's
// long-lived task.
//
// Example usage:
//
//	rt, err := runtime.New(runtime.Config{
//	    Address:   "/run/containerd/containerd.sock",
//	    Namespace: "keg",
//	    Image:     "docker.io/library/debian:stable",
//	})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	s, err := rt.Open(ctx, runtime.Scope{ID: "hello-1.0", Binds: []runtime.Bind{{Path: dir}}})
//	if err != nil {
//	    return err
//	}
//	defer s.Close(ctx)
//
//	res, err := s.Run(ctx, runtime.Command{Program: "make", Dir: dir})
package runtime
