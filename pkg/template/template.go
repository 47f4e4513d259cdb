package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ServerType selects the launch recipe for a server distribution.
type ServerType string

const (
	TypeVanilla ServerType = "vanilla"
	TypePaper   ServerType = "paper"
	TypePurpur  ServerType = "purpur"
	TypeFabric  ServerType = "fabric"
	TypeForge   ServerType = "forge"
)

// DefaultMemory is the heap size used when Options.Memory is empty.
const DefaultMemory = "2G"

// aikarFlags are the widely used G1 tuning flags for Paper-derived servers.
var aikarFlags = []string{
	"-XX:+UseG1GC",
	"-XX:+ParallelRefProcEnabled",
	"-XX:MaxGCPauseMillis=200",
	"-XX:+UnlockExperimentalVMOptions",
	"-XX:+DisableExplicitGC",
	"-XX:+AlwaysPreTouch",
	"-XX:G1HeapRegionSize=8M",
	"-XX:G1ReservePercent=20",
	"-XX:InitiatingHeapOccupancyPercent=15",
	"-Dusing.aikars.flags=https://mcflags.emc.gs",
}

var memoryRe = regexp.MustCompile(`^[1-9][0-9]*[MG]$`)

// ServerTemplate is a ready-to-start launch description. Its JSON form is
// accepted by "mcmanager start --template".
type ServerTemplate struct {
	Name        string     `json:"name"`
	Type        ServerType `json:"type"`
	Command     string     `json:"command"`
	WorkDir     string     `json:"work_dir,omitempty"`
	Env         []string   `json:"env,omitempty"`
	AutoRestart *bool      `json:"auto_restart,omitempty"`
}

// Options tunes the generated command line.
type Options struct {
	Memory string // heap size such as 4G or 512M
	Jar    string // server jar, defaults per type
	Java   string // java executable, defaults to "java"
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds the launch template for the given server type.
func (g *Generator) Generate(serverType ServerType, name string, opts Options) (*ServerTemplate, error) {
	if opts.Memory == "" {
		opts.Memory = DefaultMemory
	}
	opts.Memory = strings.ToUpper(opts.Memory)
	if !memoryRe.MatchString(opts.Memory) {
		return nil, fmt.Errorf("invalid memory %q: want a size like 4G or 512M", opts.Memory)
	}
	if opts.Java == "" {
		opts.Java = "java"
	}
	auto := true
	t := &ServerTemplate{Name: name, Type: serverType, AutoRestart: &auto}

	switch serverType {
	case TypeVanilla:
		t.Command = javaCommand(opts, "server.jar", nil)
	case TypePaper:
		t.Command = javaCommand(opts, "paper.jar", aikarFlags)
	case TypePurpur:
		t.Command = javaCommand(opts, "purpur.jar", aikarFlags)
	case TypeFabric:
		t.Command = javaCommand(opts, "fabric-server-launch.jar", nil)
	case TypeForge:
		// run.sh is written by the Forge installer; the java launcher picks
		// the heap size up from JDK_JAVA_OPTIONS.
		t.Command = "sh run.sh nogui"
		t.Env = []string{"JDK_JAVA_OPTIONS=-Xms" + opts.Memory + " -Xmx" + opts.Memory}
	default:
		return nil, fmt.Errorf("unsupported server type: %s (supported: %s)", serverType, strings.Join(g.GetSupportedTypes(), ", "))
	}
	return t, nil
}

func javaCommand(opts Options, defaultJar string, flags []string) string {
	jar := opts.Jar
	if jar == "" {
		jar = defaultJar
	}
	parts := []string{opts.Java, "-Xms" + opts.Memory, "-Xmx" + opts.Memory}
	parts = append(parts, flags...)
	parts = append(parts, "-jar", jar, "nogui")
	return strings.Join(parts, " ")
}

// GenerateJSON creates a JSON representation of the template
func (g *Generator) GenerateJSON(serverType ServerType, name string, opts Options) ([]byte, error) {
	t, err := g.Generate(serverType, name, opts)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(t, "", "  ")
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	types := []string{
		string(TypeVanilla),
		string(TypePaper),
		string(TypePurpur),
		string(TypeFabric),
		string(TypeForge),
	}
	sort.Strings(types)
	return types
}

// Load reads a template written by GenerateJSON or by hand.
func Load(path string) (*ServerTemplate, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var t ServerTemplate
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	if strings.TrimSpace(t.Command) == "" {
		return nil, fmt.Errorf("template %s has no command", path)
	}
	return &t, nil
}
