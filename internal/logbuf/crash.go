package logbuf

import "strings"

// CrashWindow is how many trailing lines DetectCrash inspects.
const CrashWindow = 20

var crashKeywords = []string{
	"Exception",
	"Error",
	"Crash",
	"Fatal",
	"java.lang.OutOfMemoryError",
	"java.lang.StackOverflowError",
	"Server crashed",
}

// DetectCrash reports whether any of the last CrashWindow lines contains a
// crash keyword. It is a coarse heuristic: "Error" in a benign message
// counts too.
func DetectCrash(lines []string) bool {
	start := 0
	if len(lines) > CrashWindow {
		start = len(lines) - CrashWindow
	}
	for _, line := range lines[start:] {
		for _, kw := range crashKeywords {
			if strings.Contains(line, kw) {
				return true
			}
		}
	}
	return false
}
