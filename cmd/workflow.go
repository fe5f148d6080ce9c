package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sells-group/license-watch/internal/provision"
	"github.com/sells-group/license-watch/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect the workflow definition",
}

var workflowShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective workflow definition as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := workflow.Load(cfg.Workflow.Path)
		if err != nil {
			return err
		}
		out, err := def.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a workflow file and the manifests it references",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Workflow.Path
		if len(args) == 1 {
			path = args[0]
		}
		def, err := workflow.Load(path)
		if err != nil {
			return err
		}
		for _, step := range def.Steps {
			if step.Manifest == "" {
				continue
			}
			m, err := provision.LoadManifest(manifestPath(cfg.Workflow.WorkDir, step))
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s ok (%d requirements)\n", step.Name, m.Path, len(m.Requirements))
		}
		fmt.Printf("workflow %q ok: %d steps, secrets %v\n", def.Name, len(def.Steps), def.Secrets())
		return nil
	},
}

func manifestPath(workDir string, step workflow.Step) string {
	return filepath.Join(workDir, step.Dir, step.Manifest)
}

func init() {
	workflowCmd.AddCommand(workflowShowCmd)
	workflowCmd.AddCommand(workflowValidateCmd)
	rootCmd.AddCommand(workflowCmd)
}
