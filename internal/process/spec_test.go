package process

import (
	"strings"
	"testing"
)

// Ensure that when the command string already includes an explicit
// shell invocation (e.g., "sh -c 'echo hi'"), we do not double-wrap
// it with another "/bin/sh -c" layer.
func TestBuildCommand_ExplicitShellNoDoubleWrap(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "x", Command: "sh -c 'echo hi'"}
	cmd, err := s.BuildCommand()
	if err != nil {
		t.Fatal(err)
	}
	if len(cmd.Args) < 3 {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
	if cmd.Args[1] != "-c" {
		t.Fatalf("expected -c as second arg, got %#v", cmd.Args)
	}
	if strings.HasPrefix(cmd.Args[2], "sh -c ") || cmd.Args[2] != "echo hi" {
		t.Fatalf("command was double-wrapped: %q", cmd.Args[2])
	}
}

func TestBuildCommand_MetacharTriggersShell(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "y", Command: "echo hi | wc -c"}
	cmd, err := s.BuildCommand()
	if err != nil {
		t.Fatal(err)
	}
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("expected shell -c wrapping, got argv=%#v", cmd.Args)
	}
}

func TestBuildCommand_PlainArgv(t *testing.T) {
	s := Spec{Name: "mc", Command: "java -Xmx2G -jar server.jar nogui"}
	cmd, err := s.BuildCommand()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"java", "-Xmx2G", "-jar", "server.jar", "nogui"}
	if len(cmd.Args) != len(want) {
		t.Fatalf("argv=%#v", cmd.Args)
	}
	for i := range want {
		if cmd.Args[i] != want[i] {
			t.Fatalf("argv[%d]=%q want %q", i, cmd.Args[i], want[i])
		}
	}
}

func TestSpec_Validate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name        string
		spec        Spec
		errContains string
	}{
		{name: "valid", spec: Spec{Name: "s", Command: "echo hello", WorkDir: dir}},
		{name: "empty name", spec: Spec{Name: "  ", Command: "echo"}, errContains: "requires name"},
		{name: "empty command", spec: Spec{Name: "s"}, errContains: "requires command"},
		{name: "missing dir", spec: Spec{Name: "s", Command: "echo", WorkDir: dir + "/nope"}, errContains: "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}
