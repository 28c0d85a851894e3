package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

func (k statusKind) label() string {
	switch k {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (k statusKind) colors() text.Colors {
	switch k {
	case statusOK:
		return text.Colors{text.FgGreen}
	case statusWarn:
		return text.Colors{text.FgYellow}
	case statusError:
		return text.Colors{text.FgRed}
	default:
		return text.Colors{text.FgBlue}
	}
}

const statusLabelWidth = 22

// statusPrinter writes the sectioned check list printed by doctor and keeps
// count of the error lines it has written.
type statusPrinter struct {
	out      io.Writer
	colorize bool
	sections int
	errors   int
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	return &statusPrinter{out: out, colorize: shouldColorize(out)}
}

func (p *statusPrinter) section(title string) {
	if p.sections > 0 {
		fmt.Fprintln(p.out)
	}
	p.sections++
	heading := "== " + strings.TrimSpace(title) + " =="
	rule := strings.Repeat("-", len(heading))
	fmt.Fprintln(p.out, p.paint(text.Colors{text.FgBlue}, heading))
	fmt.Fprintln(p.out, p.paint(text.Colors{text.FgBlue}, rule))
}

func (p *statusPrinter) line(label string, kind statusKind, message string) {
	if kind == statusError {
		p.errors++
	}
	badge := "[" + kind.label() + "]"
	if message != "" {
		badge += " " + message
	}
	fmt.Fprintln(p.out, p.paint(kind.colors(), fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", badge)))
}

func (p *statusPrinter) paint(colors text.Colors, s string) string {
	if !p.colorize {
		return s
	}
	return colors.Sprint(s)
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shouldColorize(writer io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isTerminal(writer)
}
