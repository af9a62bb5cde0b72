package zsql

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
)

// cmdLog writes commands to an io.Writer before they're run.
type cmdLog struct {
	mu      sync.Mutex
	out     io.Writer
	logWhat DumpArg
	filter  string
}

var reSpace = regexp.MustCompile(`\s+`)

// newCmdLog creates a new command logger.
//
// If filter is not an empty string then only commands containing the text are
// logged; whitespace in the command is collapsed before matching.
//
// Only DumpQuery is set if logWhat is 0.
func newCmdLog(out io.Writer, logWhat DumpArg, filter string) *cmdLog {
	if out == nil {
		return nil
	}
	if logWhat == 0 {
		logWhat = DumpQuery
	}
	return &cmdLog{out: out, logWhat: logWhat, filter: filter}
}

func (l *cmdLog) log(cmd *Command, query string, params []any) {
	if l == nil {
		return
	}
	if l.filter != "" && !strings.Contains(reSpace.ReplaceAllString(query, " "), l.filter) {
		return
	}

	b := new(strings.Builder)
	if l.logWhat&DumpLocation != 0 {
		if loc := callerLocation(); loc != "" {
			fmt.Fprintf(b, "%s\n", loc)
		}
	}
	switch {
	case l.logWhat&DumpParams != 0:
		b.WriteString(ApplyParams(query, params...))
	case l.logWhat&DumpQuery != 0:
		b.WriteString(deIndent(query))
	}
	if cmd.Timeout > 0 {
		fmt.Fprintf(b, " -- timeout %s", cmd.Timeout)
	}
	b.WriteString("\n\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}

// callerLocation gets the first caller outside of this package.
func callerLocation() string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "zgo.at/zsql.") || strings.HasSuffix(f.File, "_test.go") {
			return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		if !more {
			return ""
		}
	}
}
