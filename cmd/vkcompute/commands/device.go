package commands

import (
	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Show the selected compute device",
	Long: `Select the first Vulkan device with a compute queue and print its name,
type and compute limits.`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
}

func runDevice(cmd *cobra.Command, args []string) error {
	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()
	return dev.Properties().WriteSummary(cmd.OutOrStdout())
}
