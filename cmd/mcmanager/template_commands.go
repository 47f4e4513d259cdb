package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/mcmanager/pkg/template"
)

// templatesDir is where template create writes when --output is not given.
const templatesDir = "templates"

func createTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate server launch templates",
	}

	flags := &TemplateFlags{}
	create := &cobra.Command{
		Use:   "create TYPE",
		Short: "Write a JSON launch template for a server type",
		Long: `Write a launch template that "mcmanager start --template" accepts.
Edit the command, environment or working directory before starting.

Examples:
  mcmanager template create paper --name lobby --memory 4G
  mcmanager template create fabric --jar fabric-server.jar --output modded.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := writeTemplate(args[0], flags)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Template created: %s\n", path)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Start it with: mcmanager start NAME --template %s\n", path)
			return nil
		},
	}
	create.Flags().StringVar(&flags.Name, "name", "", "server name stored in the template (default TYPE-server)")
	create.Flags().StringVar(&flags.Memory, "memory", template.DefaultMemory, "heap size, e.g. 4G or 512M")
	create.Flags().StringVar(&flags.Jar, "jar", "", "server jar (default per type)")
	create.Flags().StringVar(&flags.Java, "java", "", "java executable (default java)")
	create.Flags().StringVar(&flags.Output, "output", "", "output file (default templates/NAME.json)")
	create.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")

	types := &cobra.Command{
		Use:   "types",
		Short: "List supported server types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(template.NewGenerator().GetSupportedTypes(), "\n"))
			return nil
		},
	}

	cmd.AddCommand(create, types)
	return cmd
}

func writeTemplate(serverType string, f *TemplateFlags) (string, error) {
	name := f.Name
	if name == "" {
		name = serverType + "-server"
	}
	data, err := template.NewGenerator().GenerateJSON(template.ServerType(serverType), name, template.Options{
		Memory: f.Memory,
		Jar:    f.Jar,
		Java:   f.Java,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate template: %w", err)
	}

	out := f.Output
	if out == "" {
		if err := os.MkdirAll(templatesDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create templates directory: %w", err)
		}
		out = filepath.Join(templatesDir, name+".json")
	}
	if _, err := os.Stat(out); err == nil && !f.Force {
		return "", fmt.Errorf("template file '%s' already exists (use --force to overwrite)", out)
	}
	if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write template file: %w", err)
	}
	return out, nil
}
