package lineproto

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Send writes one request line on conn and reads the reply from r, which
// must be the connection's long-lived buffered reader. ctx's deadline, if
// any, bounds the exchange.
func Send(ctx context.Context, conn net.Conn, r *bufio.Reader, line string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	if strings.ContainsAny(line, "\r\n") {
		return Response{}, errors.Wrap(ErrBadArgument, "request must be a single line")
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return Response{}, errors.Wrap(err, "sending request")
	}
	resp, err := ReadResponse(r)
	if err != nil {
		return Response{}, errors.Wrap(err, "reading response")
	}
	return resp, nil
}
