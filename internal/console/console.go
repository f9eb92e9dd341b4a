// Package console prints the human-readable progress output of the smoke
// commands.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// RuleWidth is the width of the "=" rules around section banners.
const RuleWidth = 70

// Printer writes progress output. The zero value is not usable; use New.
type Printer struct {
	w io.Writer
}

// New returns a Printer writing to w, or stdout when w is nil.
func New(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

// Writer exposes the underlying writer for table rendering.
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.w, args...)
}

// Rule prints a full-width "=" line.
func (p *Printer) Rule() {
	fmt.Fprintln(p.w, strings.Repeat("=", RuleWidth))
}

// Banner prints a blank line, then title between two rules.
func (p *Printer) Banner(title string) {
	fmt.Fprintln(p.w)
	p.Rule()
	fmt.Fprintln(p.w, title)
	p.Rule()
}

// Lines prints each line with the given indent.
func (p *Printer) Lines(indent string, lines ...string) {
	for _, l := range lines {
		fmt.Fprintln(p.w, indent+l)
	}
}
