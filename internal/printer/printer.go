// Package printer renders burrow's human-facing CLI output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dyluth/burrow/pkg/dump"
	"github.com/fatih/color"
)

func init() {
	// Colour even without a TTY; NO_COLOR turns it off.
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects normal and error output. Nil leaves a stream unchanged.
func SetOutput(out, errOut io.Writer) {
	if out != nil {
		stdout = out
	}
	if errOut != nil {
		stderr = errOut
	}
}

// Success prints a green message prefixed with a check mark.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(stdout, msg)
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Warning prints a yellow message prefixed with a warning sign.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(stdout, msg)
}

// Step prints a cyan progress line for multi-step operations.
func Step(format string, a ...any) {
	cyan.Fprintf(stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled error with an explanation and suggested fixes to
// stderr. The returned error carries only the title, for cobra to exit with.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details, printed in key order.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(stderr)
		for _, k := range keys {
			fmt.Fprintf(stderr, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(stderr, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(stderr, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// State returns a device state coloured by outcome.
func State(s dump.State) string {
	switch s {
	case dump.StateCompleted:
		return green.Sprint(s)
	case dump.StateError:
		return red.Sprint(s)
	case dump.StateCancelled:
		return yellow.Sprint(s)
	case dump.StateIdle:
		return faint.Sprint(s)
	default:
		return cyan.Sprint(s)
	}
}

// Outcome renders a success flag; nil means still pending.
func Outcome(success *bool) string {
	switch {
	case success == nil:
		return faint.Sprint("pending")
	case *success:
		return green.Sprint("ok")
	default:
		return red.Sprint("failed")
	}
}

// Println prints a plain line.
func Println(a ...any) {
	fmt.Fprintln(stdout, a...)
}

// Printf prints plain formatted output.
func Printf(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}
