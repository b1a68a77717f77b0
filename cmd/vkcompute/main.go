package main

import (
	"os"
	"runtime"

	"github.com/hellhand/vkcompute/cmd/vkcompute/commands"
)

func init() {
	// GLFW and some Vulkan loaders expect calls from the main thread.
	runtime.LockOSThread()
}

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
