package commands

import (
	"fmt"
	"path/filepath"

	"github.com/dyluth/burrow/internal/printer"
	"github.com/dyluth/burrow/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter burrow.yml",
	Long: `Write a starter burrow.yml in the current directory.

The file dumps devices with 'adb bugreport' and leaves uploads disabled until
an upload section is filled in.

Use --force to overwrite an existing burrow.yml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing burrow.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := filepath.Dir(configPath)
	created, err := scaffold.Initialize(dir, forceInit)
	if err != nil {
		return printer.Error("Initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized burrow\n")
	for _, f := range created {
		printer.Println("  ✓", f)
	}
	printer.Println()
	printer.Println("Next steps:")
	printer.Println(fmt.Sprintf("  1. List your devices and extraction commands in %s", created[0]))
	printer.Println("  2. Run 'burrow run' to dump once, or 'burrow serve' to start the coordinator")
	return nil
}
