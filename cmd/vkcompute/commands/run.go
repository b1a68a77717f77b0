package commands

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/hellhand/vkcompute/compute"
	"github.com/hellhand/vkcompute/driver"
	"github.com/hellhand/vkcompute/internal/logging"
)

var (
	runGroups    string
	runEntry     string
	runSpecs     []string
	runBuffers   []string
	runConstants string
)

var runCmd = &cobra.Command{
	Use:   "run KERNEL.spv",
	Short: "Dispatch a compute kernel once",
	Long: `Load a SPIR-V kernel, create one buffer per --buffer flag and bind them to
slots 0..n-1 in order, dispatch once and print every buffer.

Buffers are given as type:count for a zeroed buffer or type=v1,v2,... for a
filled one. Element types are u32, i32, f32 and vec4.`,
	Example: `  vkcompute run threadscount.spv --groups 2,2 --spec u32:4 --spec u32:4 --spec u32:1 --buffer u32:1
  vkcompute run saxpy.spv --groups 4 --buffer f32=1,2,3,4 --buffer f32:4 --constants f32:2`,
	Args: cobra.ExactArgs(1),
	RunE: runKernel,
}

func init() {
	runCmd.Flags().StringVar(&runGroups, "groups", "1,1,1", "work-group count x[,y[,z]]")
	runCmd.Flags().StringVar(&runEntry, "entry", compute.DefaultEntryPoint, "kernel entry point")
	runCmd.Flags().StringArrayVar(&runSpecs, "spec", nil, "specialization constant type:value, in constant id order")
	runCmd.Flags().StringArrayVar(&runBuffers, "buffer", nil, "buffer type:count or type=v1,v2,...")
	runCmd.Flags().StringVar(&runConstants, "constants", "", "push constants type:value,...")
	rootCmd.AddCommand(runCmd)
}

func runKernel(cmd *cobra.Command, args []string) error {
	groups, err := parseGroups(runGroups)
	if err != nil {
		return err
	}
	specValues := make([]any, 0, len(runSpecs))
	for _, s := range runSpecs {
		v, err := parseSpecValue(s)
		if err != nil {
			return err
		}
		specValues = append(specValues, v)
	}
	spec, err := compute.NewSpecialization(specValues...)
	if err != nil {
		return err
	}
	bufferSpecs := make([]bufferSpec, 0, len(runBuffers))
	for _, s := range runBuffers {
		b, err := parseBufferSpec(s)
		if err != nil {
			return err
		}
		bufferSpecs = append(bufferSpecs, b)
	}
	var constants []byte
	if runConstants != "" {
		if constants, err = parseConstants(runConstants); err != nil {
			return err
		}
	}

	dev, err := openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()
	return dispatchOnce(cmd, dev, args[0], groups, spec, bufferSpecs, constants)
}

// dispatchOnce creates the buffers and program on dev, runs one dispatch and
// prints the buffers. Every object is released before it returns.
func dispatchOnce(cmd *cobra.Command, dev driver.Device, path string, groups compute.WorkGroups,
	spec compute.Specialization, specs []bufferSpec, constants []byte) error {
	log := logging.For("run")

	buffers := make([]hostBuffer, 0, len(specs))
	defer func() {
		for _, b := range buffers {
			b.Release()
		}
	}()
	for i, s := range specs {
		b, err := newHostBuffer(dev, s)
		if err != nil {
			return errors.Wrapf(err, "buffer %d", i)
		}
		buffers = append(buffers, b)
	}

	kernel, err := compute.LoadKernel(dev, path, runEntry)
	if err != nil {
		return err
	}
	program, err := compute.NewProgram(kernel,
		compute.WithLogger(logging.For("compute")),
		compute.WithPoolLimits(cfg.Pool))
	if err != nil {
		kernel.Release()
		return err
	}
	defer program.Release()

	if err := program.SetSpecialization(spec); err != nil {
		return err
	}
	bindings := make([]compute.Binding, len(buffers))
	for i, b := range buffers {
		bindings[i] = b
	}
	program.WithWorkGroups(groups.X, groups.Y, groups.Z)
	if constants != nil {
		err = program.DispatchWithConstants(constants, bindings...)
	} else {
		err = program.Dispatch(bindings...)
	}
	if err != nil {
		return err
	}
	log.WithField("groups", groups).Info("dispatch complete")

	w := cmd.OutOrStdout()
	for i, b := range buffers {
		b.print(w, i)
	}
	return nil
}
