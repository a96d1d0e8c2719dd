package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cruciblehq/keg/internal/build"
)

// Failure reported by the daemon.
type RemoteError struct {
	Message string
	Outcome build.Outcome
}

func (e *RemoteError) Error() string { return e.Message }

// Sends one request to the daemon at socket and decodes the response
// payload into T.
//
// Cancelling ctx closes the connection, which the daemon treats as
// cancellation of the request. An error response is returned as a
// [*RemoteError].
func Call[T any](ctx context.Context, socket string, cmd Command, payload any) (*T, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := Encode(cmd, payload)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	env, raw, err := Decode(line)
	if err != nil {
		return nil, err
	}
	switch env.Command {
	case CmdOK:
		return DecodePayload[T](raw)
	case CmdError:
		res, err := DecodePayload[ErrorResult](raw)
		if err != nil {
			return nil, err
		}
		return nil, &RemoteError{Message: res.Message, Outcome: res.Outcome}
	default:
		return nil, fmt.Errorf("%w: unexpected response %q", ErrProtocol, env.Command)
	}
}

// Reports whether err means no daemon is listening.
func IsUnavailable(err error) bool {
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}
