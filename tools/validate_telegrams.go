//go:build ignore

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/darkrain-nl/s0pcm-bridge/internal/protocol"
)

// Statistics tracks decoding results over a capture file.
type Statistics struct {
	TotalLines  int
	Headers     int
	DataOK      int
	DataFailed  int
	Empty       int
	Invalid     int
	FailedLines []FailedLine
}

// FailedLine stores information about decoding failures.
type FailedLine struct {
	LineNumber int
	Line       string
	Error      string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_telegrams <capture-file>")
		fmt.Println("Example: validate_telegrams captures/ttyACM0-20260214.log")
		fmt.Println()
		fmt.Println("The capture file holds raw serial lines, one telegram per line,")
		fmt.Println("as produced by e.g. 'cat /dev/ttyACM0 > capture.log'.")
		os.Exit(1)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Printf("Error opening file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	stats := Statistics{}
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		stats.TotalLines++

		switch protocol.Classify(line) {
		case protocol.KindHeader:
			stats.Headers++
			fmt.Printf("line %d: header, firmware %q\n", lineNum, protocol.ParseHeader(line))

		case protocol.KindData:
			counts, err := protocol.ParseTelegram(line)
			if err != nil {
				stats.DataFailed++
				stats.FailedLines = append(stats.FailedLines, FailedLine{
					LineNumber: lineNum,
					Line:       line,
					Error:      err.Error(),
				})
				continue
			}
			stats.DataOK++
			fmt.Printf("line %d: %d channels %v\n", lineNum, len(counts), counts)

		case protocol.KindEmpty:
			stats.Empty++

		default:
			stats.Invalid++
			stats.FailedLines = append(stats.FailedLines, FailedLine{
				LineNumber: lineNum,
				Line:       line,
				Error:      "unrecognized line",
			})
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Total lines:    %d\n", stats.TotalLines)
	fmt.Printf("Headers:        %d\n", stats.Headers)
	fmt.Printf("Data decoded:   %d\n", stats.DataOK)
	fmt.Printf("Data failed:    %d\n", stats.DataFailed)
	fmt.Printf("Empty lines:    %d\n", stats.Empty)
	fmt.Printf("Invalid lines:  %d\n", stats.Invalid)

	if len(stats.FailedLines) > 0 {
		fmt.Println()
		fmt.Println("=== Failures ===")
		for _, fl := range stats.FailedLines {
			fmt.Printf("line %d: %s\n  %q\n", fl.LineNumber, fl.Error, fl.Line)
		}
		os.Exit(1)
	}
}
