package commonutils

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
)

// GoID returns the id of the calling goroutine, or -1 if it cannot be parsed.
// It walks runtime.Stack, so keep it off hot paths unless a debug switch asks for it.
func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	// The first line looks like: "goroutine 123 [running]:\n"
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Caller describes the function skip frames above Caller as "file:line (func)".
// skip=0 is the caller of Caller.
func Caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown caller"
	}

	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d (%s)", filepath.Base(file), line, name)
}
