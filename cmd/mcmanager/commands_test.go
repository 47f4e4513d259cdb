package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/mcmanager/internal/backup"
)

// writeConfig writes a TOML config rooted at a fresh data directory. The
// data_dir line is prepended to body.
func writeConfig(t *testing.T, body string) (path, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	path = filepath.Join(dir, "mcmanager.toml")
	content := fmt.Sprintf("data_dir = %q\n%s", filepath.ToSlash(dataDir), body)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dataDir
}

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBuildRoot_Subcommands(t *testing.T) {
	root := buildRoot()
	want := []string{"serve", "start", "stop", "status", "send", "logs", "playit", "backup", "tunnel", "crash-check", "template"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
	for _, f := range []string{"config", "api-url", "token", "api-timeout"} {
		if root.PersistentFlags().Lookup(f) == nil {
			t.Errorf("missing persistent flag --%s", f)
		}
	}
}

func TestStartBodyFromFlags(t *testing.T) {
	if _, err := startBodyFromFlags("survival", &StartFlags{Cmd: "  "}, false); err == nil {
		t.Fatal("expected error for blank command")
	}

	envFile := filepath.Join(t.TempDir(), "server.env")
	if err := os.WriteFile(envFile, []byte("# comment\nEULA=true\nJAVA_OPTS=-Xmx2G\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := &StartFlags{
		Cmd:         "java -jar server.jar nogui",
		WorkDir:     "/srv/mc",
		Env:         []string{"MOTD=hello"},
		EnvFiles:    []string{envFile},
		AutoRestart: true,
	}
	body, err := startBodyFromFlags("survival", f, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantEnv := []string{"EULA=true", "JAVA_OPTS=-Xmx2G", "MOTD=hello"}
	if strings.Join(body.Env, ",") != strings.Join(wantEnv, ",") {
		t.Fatalf("env = %v, want %v", body.Env, wantEnv)
	}
	if body.AutoRestart == nil || !*body.AutoRestart {
		t.Fatalf("auto restart not set: %+v", body)
	}

	body, err = startBodyFromFlags("survival", &StartFlags{Cmd: "./run.sh", AutoRestart: true}, false)
	if err != nil {
		t.Fatal(err)
	}
	if body.AutoRestart != nil {
		t.Fatal("auto restart must be omitted when the flag was not given")
	}

	if _, err := startBodyFromFlags("survival", &StartFlags{Cmd: "x", EnvFiles: []string{filepath.Join(t.TempDir(), "nope.env")}}, false); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestStartBodyFromFlags_Templates(t *testing.T) {
	body, err := startBodyFromFlags("lobby", &StartFlags{Type: "paper", Memory: "4G"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(body.Command, "java -Xms4G -Xmx4G") || !strings.HasSuffix(body.Command, "paper.jar nogui") {
		t.Fatalf("unexpected command %q", body.Command)
	}
	if body.AutoRestart == nil || !*body.AutoRestart {
		t.Fatal("generated templates enable auto restart")
	}

	if _, err := startBodyFromFlags("lobby", &StartFlags{Type: "paper", Memory: "huge"}, false); err == nil {
		t.Fatal("expected invalid memory error")
	}

	out := filepath.Join(t.TempDir(), "modded.json")
	if _, err := writeTemplate("forge", &TemplateFlags{Name: "modded", Memory: "6G", Output: out}); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if _, err := writeTemplate("forge", &TemplateFlags{Name: "modded", Output: out}); err == nil {
		t.Fatal("expected error for existing file without --force")
	}

	body, err = startBodyFromFlags("modded", &StartFlags{Template: out, WorkDir: "/srv/modded", Env: []string{"EULA=true"}, AutoRestart: false}, true)
	if err != nil {
		t.Fatal(err)
	}
	if body.Command != "sh run.sh nogui" || body.WorkDir != "/srv/modded" {
		t.Fatalf("unexpected body %+v", body)
	}
	if strings.Join(body.Env, ",") != "JDK_JAVA_OPTIONS=-Xms6G -Xmx6G,EULA=true" {
		t.Fatalf("unexpected env %v", body.Env)
	}
	if body.AutoRestart == nil || *body.AutoRestart {
		t.Fatal("--auto-restart=false must override the template")
	}

	body, err = startBodyFromFlags("modded", &StartFlags{Template: out, Cmd: "./custom.sh"}, false)
	if err != nil || body.Command != "./custom.sh" {
		t.Fatalf("--cmd must override the template: %+v %v", body, err)
	}
}

func TestTemplateCommands(t *testing.T) {
	out, err := runCLI(t, "template", "types")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "paper") || !strings.Contains(out, "vanilla") {
		t.Fatalf("unexpected types %q", out)
	}

	path := filepath.Join(t.TempDir(), "lobby.json")
	out, err = runCLI(t, "template", "create", "vanilla", "--name", "lobby", "--output", path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "template", "create", "bukkit", "--output", filepath.Join(t.TempDir(), "x.json")); err == nil {
		t.Fatal("expected unsupported type error")
	}
}

func TestStartCommand_RequiresCmd(t *testing.T) {
	if _, err := runCLI(t, "start", "survival"); err == nil {
		t.Fatal("expected error without --cmd")
	}
}

func TestCrashCheck(t *testing.T) {
	dir := t.TempDir()
	crashed := filepath.Join(dir, "crashed.log")
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("[Server thread/INFO]: tick %d", i))
	}
	lines = append(lines, "java.lang.OutOfMemoryError: Java heap space")
	if err := os.WriteFile(crashed, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, "crash-check", "--file", crashed)
	if !errors.Is(err, errCrashFound) {
		t.Fatalf("expected errCrashFound, got %v", err)
	}
	printed := strings.Split(strings.TrimSpace(out), "\n")
	if len(printed) != 20 {
		t.Fatalf("expected the last 20 lines, got %d", len(printed))
	}
	if !strings.Contains(printed[len(printed)-1], "OutOfMemoryError") {
		t.Fatalf("unexpected tail %q", printed[len(printed)-1])
	}

	clean := filepath.Join(dir, "clean.log")
	if err := os.WriteFile(clean, []byte("Done (3.2s)! For help, type \"help\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "crash-check", "--file", clean)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "no crash detected") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := runCLI(t, "crash-check", "--file", filepath.Join(dir, "missing.log")); err == nil || errors.Is(err, errCrashFound) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestBackupCommands(t *testing.T) {
	cfgPath, dataDir := writeConfig(t, "")
	for _, name := range []string{"alpha", "beta", "gamma"} {
		world := filepath.Join(dataDir, "servers", name, "world")
		if err := os.MkdirAll(world, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(world, "level.dat"), []byte(name), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	out, err := runCLI(t, "--config", cfgPath, "backup", "create", "alpha", "beta", "gamma")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created []backup.Info
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(created) != 3 || created[0].Server != "alpha" {
		t.Fatalf("unexpected created %+v", created)
	}

	out, err = runCLI(t, "--config", cfgPath, "backup", "list", "--server", "beta")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed []backup.Info
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Server != "beta" {
		t.Fatalf("unexpected list %+v", listed)
	}

	if _, err := runCLI(t, "--config", cfgPath, "backup", "restore", listed[0].Name); err == nil {
		t.Fatal("restore without --force must fail")
	}

	level := filepath.Join(dataDir, "servers", "beta", "world", "level.dat")
	if err := os.WriteFile(level, []byte("changed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "--config", cfgPath, "backup", "restore", listed[0].Name, "--force"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	b, err := os.ReadFile(level)
	if err != nil || string(b) != "beta" {
		t.Fatalf("world not restored: %q, %v", b, err)
	}

	out, err = runCLI(t, "--config", cfgPath, "backup", "prune", "--keep", "1")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	var removed []string
	if err := json.Unmarshal([]byte(out), &removed); err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 pruned, got %v", removed)
	}

	out, err = runCLI(t, "--config", cfgPath, "backup", "list")
	if err != nil {
		t.Fatal(err)
	}
	listed = nil
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one backup left, got %+v", listed)
	}
}

func TestBackupCreate_InvalidName(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	if _, err := runCLI(t, "--config", cfgPath, "backup", "create", "../escape"); err == nil {
		t.Fatal("expected invalid name error")
	}
}

func TestTunnelDetect(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	agentDir := t.TempDir()
	agentFile := filepath.Join(agentDir, "agent.json")
	if err := os.WriteFile(agentFile, []byte(`{"tunnels":[{"assigned":"cli-host.share.playit.gg"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(agentFile, old, old); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", cfgPath, "tunnel", "detect", "--dir", agentDir)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res["address"] != "cli-host.share.playit.gg" || res["source"] != "config" {
		t.Fatalf("unexpected result %v", res)
	}

	logFile := filepath.Join(t.TempDir(), "agent.log")
	if err := os.WriteFile(logFile, []byte("starting\nTunnel ready at log-host.share.playit.gg\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "--config", cfgPath, "tunnel", "detect", "--dir", agentDir, "--logs", logFile)
	if err != nil {
		t.Fatalf("detect with logs: %v", err)
	}
	res = nil
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res["address"] != "log-host.share.playit.gg" {
		t.Fatalf("logs should win over files, got %v", res)
	}

	if _, err := runCLI(t, "--config", cfgPath, "tunnel", "detect", "--dir", t.TempDir()); err == nil {
		t.Fatal("expected error when nothing is found")
	}
}

func TestTail(t *testing.T) {
	lines := []string{"a", "b", "c"}
	if got := tail(lines, 0); len(got) != 3 {
		t.Fatalf("n=0 should keep all, got %v", got)
	}
	if got := tail(lines, 2); strings.Join(got, "") != "bc" {
		t.Fatalf("got %v", got)
	}
	if got := tail(lines, 10); len(got) != 3 {
		t.Fatalf("got %v", got)
	}
}
