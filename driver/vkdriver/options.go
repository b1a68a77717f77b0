package vkdriver

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Loader selects how the Vulkan loader entry point is located.
type Loader string

const (
	// LoaderDefault opens the system Vulkan loader directly.
	LoaderDefault Loader = "default"
	// LoaderGLFW asks GLFW to locate the loader.
	LoaderGLFW Loader = "glfw"
)

// DefaultFenceTimeout bounds how long Submit waits for the GPU.
const DefaultFenceTimeout = 100 * time.Second

// Options configures device discovery.
type Options struct {
	ApplicationName  string
	EnableValidation bool
	Loader           Loader
	// Interop requires the external memory and semaphore extensions.
	Interop      bool
	FenceTimeout time.Duration
	Logger       *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.ApplicationName == "" {
		o.ApplicationName = "vkcompute"
	}
	if o.Loader == "" {
		o.Loader = LoaderDefault
	}
	if o.FenceTimeout <= 0 {
		o.FenceTimeout = DefaultFenceTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	o.Logger = o.Logger.WithField("component", "vkdriver")
	return o
}
