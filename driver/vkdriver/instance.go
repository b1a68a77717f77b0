package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcompute/driver"
)

var (
	validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

	interopInstanceExtensions = []string{
		"VK_KHR_get_physical_device_properties2",
		"VK_KHR_external_memory_capabilities",
		"VK_KHR_external_semaphore_capabilities",
	}
	interopDeviceExtensions = []string{
		"VK_KHR_external_memory",
		"VK_KHR_external_semaphore",
		"VK_KHR_external_memory_fd",
		"VK_KHR_external_semaphore_fd",
	}
)

// initLoader resolves vkGetInstanceProcAddr and loads the global entry points.
func initLoader(loader Loader) (terminate func(), err error) {
	terminate = func() {}
	switch loader {
	case LoaderGLFW:
		if err := glfw.Init(); err != nil {
			return terminate, errors.Wrap(err, "init glfw")
		}
		terminate = glfw.Terminate
		if !glfw.VulkanSupported() {
			terminate()
			return func() {}, errors.New("GLFW Vulkan loader not found")
		}
		vulkan.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	case LoaderDefault:
		if err := vulkan.SetDefaultGetInstanceProcAddr(); err != nil {
			return terminate, errors.Wrap(err, "locate vulkan loader")
		}
	default:
		return terminate, errors.Newf("unknown loader %q", loader)
	}
	if err := vulkan.Init(); err != nil {
		terminate()
		return func() {}, errors.Wrap(err, "vulkan init")
	}
	return terminate, nil
}

func createInstance(opts Options) (vulkan.Instance, error) {
	if opts.EnableValidation && !validationLayersSupported() {
		return vulkan.Instance(vulkan.NullHandle), errors.New("requested validation layers not available")
	}

	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   safeString(opts.ApplicationName),
		ApplicationVersion: vulkan.MakeVersion(0, 1, 0),
		PEngineName:        safeString("vkcompute"),
		EngineVersion:      vulkan.MakeVersion(0, 1, 0),
		ApiVersion:         vulkan.MakeVersion(1, 1, 0),
	}

	var extensions []string
	if opts.EnableValidation {
		extensions = append(extensions, "VK_EXT_debug_report")
	}
	if opts.Interop {
		extensions = append(extensions, interopInstanceExtensions...)
	}

	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if opts.EnableValidation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = safeStrings(validationLayers)
	}

	var instance vulkan.Instance
	if res := vulkan.CreateInstance(&createInfo, nil, &instance); res != vulkan.Success {
		return vulkan.Instance(vulkan.NullHandle), driver.Check(driver.Result(res), "vkCreateInstance")
	}
	return instance, nil
}

func validationLayersSupported() bool {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return false
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].LayerName[:])] = true
	}
	for _, l := range validationLayers {
		if !supported[l] {
			return false
		}
	}
	return true
}

// setupDebugCallback routes validation-layer reports into the logger.
func setupDebugCallback(instance vulkan.Instance, log *logrus.Entry) (vulkan.DebugReportCallback, error) {
	createInfo := vulkan.DebugReportCallbackCreateInfo{
		SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vulkan.DebugReportFlags(
			vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vulkan.DebugReportFlags, objectType vulkan.DebugReportObjectType, object uint64, location uint, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vulkan.Bool32 {
			entry := log.WithFields(logrus.Fields{"layer": layerPrefix, "code": messageCode})
			if flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0 {
				entry.Error(message)
			} else {
				entry.Warn(message)
			}
			return vulkan.False
		},
	}
	var callback vulkan.DebugReportCallback
	if res := vulkan.CreateDebugReportCallback(instance, &createInfo, nil, &callback); res != vulkan.Success {
		return vulkan.DebugReportCallback(vulkan.NullHandle), driver.Check(driver.Result(res), "vkCreateDebugReportCallbackEXT")
	}
	return callback, nil
}
