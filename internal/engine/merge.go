// Package engine orchestrates external form-filling worker processes:
// it prepares their input artifacts, supervises the child process,
// ingests its line-delimited JSON progress stream and tracks every run
// in an in-memory registry.
package engine

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// MergeCSVs concatenates the source CSVs into outPath. All sources are
// trusted to share one header schema; the header is written once, taken
// from the first file that has at least one data line. Empty and
// header-only files contribute nothing. Rows are appended verbatim in
// source order, one file fully before the next.
func MergeCSVs(outPath string, sources []string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating merged csv: %w", err)
	}
	w := bufio.NewWriter(out)

	wroteHeader := false
	for _, src := range sources {
		data, err := os.ReadFile(src)
		if err != nil {
			out.Close()
			return fmt.Errorf("reading %s: %w", src, err)
		}
		lines := splitLines(string(data))
		if len(lines) < 2 {
			continue
		}
		if !wroteHeader {
			w.WriteString(lines[0])
			w.WriteByte('\n')
			wroteHeader = true
		}
		for _, row := range lines[1:] {
			w.WriteString(row)
			w.WriteByte('\n')
		}
	}

	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CountDataLines returns the number of non-empty lines in path minus
// one header line, floored at 0.
func CountDataLines(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n := len(splitLines(string(data))) - 1
	if n < 0 {
		n = 0
	}
	return n, nil
}

// splitLines splits on \r?\n and drops empty lines
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
