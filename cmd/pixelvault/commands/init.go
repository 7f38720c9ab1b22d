package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pixelvault/pixelvault/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample pixelvault configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/pixelvault/config.yaml. Use --config to specify a custom
path.

Examples:
  # Initialize with default location
  pixelvault init

  # Initialize with custom path
  pixelvault init --config /etc/pixelvault/config.yaml

  # Force overwrite existing config
  pixelvault init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error
	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file (cache.root in particular)")
	fmt.Println("  2. Start the server with: pixelvault start")
	fmt.Printf("  3. Or specify custom config: pixelvault start --config %s\n", configPath)

	return nil
}
