package refcon

import (
	"bytes"
	"errors"
	"fmt"
	"golang.org/x/sys/unix"
	"log/slog"
	"runtime"
)

// DebugIntegrity enables a full integrity check of a container before and
// after every structural change. Failures are logged, not returned. It is
// meant for test suites, the checks are O(n) per operation.
var DebugIntegrity = false

func debugGoroutineID() slog.Attr {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	idField := bytes.Fields(buf)[1]
	var id int64
	fmt.Sscanf(string(idField), "%d", &id)
	return slog.String("gid", fmt.Sprintf("0x%02x", id))
}

func debugThreadID() slog.Attr {
	return slog.Int("tid", unix.Gettid())
}

// fatal logs a broken refcount or lock invariant and panics.
func fatal(msg string, args ...any) {
	args = append(args, debugGoroutineID(), debugThreadID())
	slog.Error(msg, args...)
	panic(errors.New("refcon: " + msg))
}
