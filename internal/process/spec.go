package process

import (
	"errors"
	"os"
	"os/exec"
	"strings"
)

// Spec describes how to launch one managed process.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // command line, e.g. "java -Xmx2G -jar server.jar nogui"
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // optional extra env, KEY=VALUE
}

// Validate checks the fields required to launch.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return ErrEmptyCommand
	}
	if s.WorkDir != "" {
		fi, err := os.Stat(s.WorkDir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return errors.New("work_dir is not a directory: " + s.WorkDir)
		}
	}
	return nil
}

// ErrEmptyCommand is returned by BuildCommand for a blank command line.
var ErrEmptyCommand = errors.New("process requires command")

// BuildCommand turns the command line into an *exec.Cmd. Plain argv lines
// run directly; lines with shell metacharacters go through the platform
// shell, and an explicit "sh -c" prefix is not wrapped a second time.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	line := strings.TrimSpace(s.Command)
	if line == "" {
		return nil, ErrEmptyCommand
	}
	if _, script, ok := parseExplicitShell(line); ok {
		return shellCommand(script), nil
	}
	if strings.ContainsAny(line, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(line), nil
	}
	parts := strings.Fields(line)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...), nil
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one pair of enclosing quotes so the shell parses the script itself.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
