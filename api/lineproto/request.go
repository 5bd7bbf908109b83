// Package lineproto serves a blink tree over a newline-delimited text
// protocol. Each request is one line; each reply starts with a status word:
//
//	PUT <key> <value...>        OK inserted | OK replaced
//	INSERT <key> <value...>     OK inserted | EXISTS <message>
//	GET <key>                   OK <value>  | NOT_FOUND <message>
//	DELETE <key>                OK deleted  | NOT_FOUND <message>
//	SCAN <from|-> <to|-> [n]    ROWS <count>, then count lines "<key> <value>"
//	SIZE | HEIGHT               OK <number>
//	VERIFY                      OK consistent | ERROR <violation>
//	PING                        OK PONG
//
// Keys are single tokens. A value starts at the first non-blank character
// after the key and runs to the end of the line, inner blanks included. Contended
// latches that outlast the request timeout are reported as BUSY.
package lineproto

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrEmptyCommand    = errors.New("empty command")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrBadArgument     = errors.New("bad argument")
)

// Unbounded is the SCAN bound placeholder meaning "no bound".
const Unbounded = "-"

// Status words.
const (
	StatusOK       = "OK"
	StatusNotFound = "NOT_FOUND"
	StatusExists   = "EXISTS"
	StatusBusy     = "BUSY"
	StatusError    = "ERROR"
	// StatusRows heads a SCAN reply; its message is the row count.
	StatusRows = "ROWS"
)

// Request represents a parsed client request.
type Request struct {
	Command string
	Key     string
	Value   string // PUT and INSERT
	// SCAN bounds; empty means unbounded.
	From, To string
	Limit    int // SCAN; 0 means the server default
}

// Response represents a server's reply to a client request.
type Response struct {
	Status  string
	Message string
	// Lines follow the status line, one per SCAN result.
	Lines []string
}

// ParseRequest parses one request line.
func ParseRequest(raw string) (Request, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return Request{}, ErrEmptyCommand
	}

	command := strings.ToUpper(parts[0])
	req := Request{Command: command}

	switch command {
	case "PUT", "INSERT":
		if len(parts) < 3 {
			return Request{}, errors.Wrapf(ErrMissingArgument, "%s requires key and value", command)
		}
		req.Key = parts[1]
		req.Value = valueField(raw)
	case "GET", "DELETE":
		if len(parts) < 2 {
			return Request{}, errors.Wrapf(ErrMissingArgument, "%s requires a key", command)
		}
		req.Key = parts[1]
	case "SCAN":
		if len(parts) < 3 {
			return Request{}, errors.Wrapf(ErrMissingArgument, "SCAN requires from and to, use %s for unbounded", Unbounded)
		}
		if parts[1] != Unbounded {
			req.From = parts[1]
		}
		if parts[2] != Unbounded {
			req.To = parts[2]
		}
		if len(parts) > 3 {
			n, err := strconv.Atoi(parts[3])
			if err != nil || n < 1 {
				return Request{}, errors.Wrapf(ErrBadArgument, "SCAN limit %q", parts[3])
			}
			req.Limit = n
		}
	case "SIZE", "HEIGHT", "VERIFY", "PING":
		// No additional arguments needed
	default:
		return Request{}, errors.Wrapf(ErrUnknownCommand, "%s", command)
	}
	return req, nil
}

// nextField splits off the first blank-separated token of s.
func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

// valueField returns everything after the command and key tokens.
func valueField(raw string) string {
	_, rest := nextField(raw)
	_, rest = nextField(rest)
	return strings.TrimLeft(rest, " \t")
}

// Encode writes the reply in wire form.
func (r Response) Encode(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", r.Status, r.Message); err != nil {
		return err
	}
	for _, line := range r.Lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadResponse reads one reply, including the rows that follow a ROWS header.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Response{}, err
	}
	status, message, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
	resp := Response{Status: status, Message: message}
	if status != StatusRows {
		return resp, nil
	}

	n, err := strconv.Atoi(message)
	if err != nil || n < 0 {
		return Response{}, errors.Newf("malformed rows header %q", strings.TrimRight(line, "\r\n"))
	}
	resp.Lines = make([]string, 0, n)
	for i := 0; i < n; i++ {
		row, err := r.ReadString('\n')
		if err != nil {
			return Response{}, errors.Wrapf(err, "reading row %d of %d", i+1, n)
		}
		resp.Lines = append(resp.Lines, strings.TrimRight(row, "\r\n"))
	}
	return resp, nil
}
