// Package commands implements the vkcompute command line.
package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hellhand/vkcompute/driver/vkdriver"
	"github.com/hellhand/vkcompute/internal/config"
	"github.com/hellhand/vkcompute/internal/logging"
)

var (
	cfgFile    string
	verbose    bool
	validation bool
	loader     string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vkcompute",
	Short: "Run Vulkan compute kernels",
	Long: `vkcompute loads SPIR-V compute kernels, binds host-visible buffers to
them and dispatches them on the first Vulkan device with a compute queue.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vkcompute/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&validation, "validation", false, "enable Vulkan validation layers")
	rootCmd.PersistentFlags().StringVar(&loader, "loader", string(vkdriver.LoaderDefault), "Vulkan loader lookup (default or glfw)")
}

// setup loads the configuration, applies flag overrides and initialises
// logging.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("validation") {
		c.Device.Validation = validation
	}
	if flags.Changed("loader") {
		c.Device.Loader = loader
	}
	if verbose {
		c.Logging.Level = logrus.DebugLevel.String()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := logging.Init(c.Logging.Level, c.Logging.File, c.Logging.Console); err != nil {
		return err
	}
	cfg = c
	return nil
}

// openDevice opens the first available device with the loaded configuration.
func openDevice() (*vkdriver.Device, error) {
	return vkdriver.FindFirstAvailable(cfg.DeviceOptions(logging.For("vkdriver")))
}
