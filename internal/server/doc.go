// Package server implements the keg daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands from
// the keg CLI. Each connection carries a single request-response exchange:
// the client sends a newline-delimited JSON envelope, the server dispatches
// the command, and writes the result back before closing the connection.
// Closing the connection early cancels the request.
//
// Install, uninstall and test commands are delegated to one shared
// [build.Executor], so concurrent clients are serialized exactly as
// concurrent recipes within one batch are.
//
// Example usage:
//
//	srv := server.New(server.Config{
//	    SocketPath: paths.Socket(),
//	    Executor:   executor,
//	    Store:      store,
//	})
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
