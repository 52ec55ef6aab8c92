package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

var (
	brand  = color.New(color.FgHiGreen, color.Bold)
	subtle = color.New(color.FgHiBlack)
	warn   = color.New(color.FgYellow)
	info   = color.New(color.FgCyan)
	good   = color.New(color.FgGreen)
	bad    = color.New(color.FgRed)
)

// typeColors gives each entity type a stable colour, like the legend of the
// graph view.
var typeColors = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgGreen),
	color.New(color.FgRed),
}

func colorFor(types []string, t string) *color.Color {
	for i, known := range types {
		if known == t {
			return typeColors[i%len(typeColors)]
		}
	}
	return subtle
}

// printTable prints an aligned table. Cells may contain colour escapes;
// widths are computed from plain[row][col].
func printTable(w io.Writer, headers []string, plain, styled [][]string) {
	if len(plain) == 0 {
		subtle.Fprintln(w, "  (none)")
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range plain {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}

	headerLine := "  "
	sepLine := "  "
	for i, h := range headers {
		headerLine += fmt.Sprintf("%-*s  ", widths[i], h)
		sepLine += strings.Repeat("─", widths[i]) + "  "
	}
	subtle.Fprintln(w, headerLine)
	subtle.Fprintln(w, sepLine)

	for r, row := range plain {
		line := "  "
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
			line += styled[r][i] + pad + "  "
		}
		fmt.Fprintln(w, line)
	}
}
