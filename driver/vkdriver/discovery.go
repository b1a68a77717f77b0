package vkdriver

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcompute/driver"
)

// ErrNoDevice is returned when no physical device exposes a compute queue
// (and the interop extensions, when requested).
var ErrNoDevice = errors.New("no suitable compute device found")

// FindFirstAvailable initialises the loader and instance, selects the first
// physical device with a compute-capable queue family and creates a logical
// device with one compute queue on it.
func FindFirstAvailable(opts Options) (*Device, error) {
	opts = opts.withDefaults()
	d := &Device{opts: opts, log: opts.Logger}
	d.initTables()

	terminate, err := initLoader(opts.Loader)
	if err != nil {
		return nil, err
	}
	d.terminate = terminate

	if d.instance, err = createInstance(opts); err != nil {
		d.destroyCore()
		return nil, err
	}
	if err := vulkan.InitInstance(d.instance); err != nil {
		d.destroyCore()
		return nil, errors.Wrap(err, "vkInitInstance")
	}
	if opts.EnableValidation {
		if d.debugCallback, err = setupDebugCallback(d.instance, d.log); err != nil {
			d.destroyCore()
			return nil, err
		}
	}
	if err := d.pickPhysicalDevice(); err != nil {
		d.destroyCore()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.destroyCore()
		return nil, err
	}

	d.log.WithFields(logrus.Fields{
		"device": d.props.Name,
		"type":   d.props.Type,
		"queue":  d.props.QueueFamilyIndex,
	}).Info("selected compute device")
	return d, nil
}

func (d *Device) pickPhysicalDevice() error {
	var count uint32
	if res := vulkan.EnumeratePhysicalDevices(d.instance, &count, nil); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkEnumeratePhysicalDevices")
	}
	if count == 0 {
		return ErrNoDevice
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if res := vulkan.EnumeratePhysicalDevices(d.instance, &count, devices); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkEnumeratePhysicalDevices")
	}

	for _, dev := range devices {
		family, ok := computeQueueFamily(dev)
		if !ok {
			continue
		}
		if d.opts.Interop && !deviceExtensionsSupported(dev, interopDeviceExtensions) {
			continue
		}
		d.physicalDevice = dev
		d.queueFamily = family
		d.props = readProperties(dev, family)
		vulkan.GetPhysicalDeviceMemoryProperties(dev, &d.memProps)
		d.memProps.Deref()
		return nil
	}
	return ErrNoDevice
}

func computeQueueFamily(device vulkan.PhysicalDevice) (uint32, bool) {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	props := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(device, &count, props)
	for i := range props {
		props[i].Deref()
		if props[i].QueueCount > 0 && props[i].QueueFlags&vulkan.QueueFlags(vulkan.QueueComputeBit) != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func deviceExtensionsSupported(device vulkan.PhysicalDevice, required []string) bool {
	var count uint32
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vulkan.Success {
		return false
	}
	props := make([]vulkan.ExtensionProperties, count)
	if res := vulkan.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vulkan.Success {
		return false
	}
	supported := make(map[string]bool)
	for i := range props {
		props[i].Deref()
		supported[vulkan.ToString(props[i].ExtensionName[:])] = true
	}
	for _, ext := range required {
		if !supported[ext] {
			return false
		}
	}
	return true
}

func readProperties(device vulkan.PhysicalDevice, family uint32) driver.Properties {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(device, &props)
	props.Deref()
	props.Limits.Deref()
	l := props.Limits
	return driver.Properties{
		Name:             vulkan.ToString(props.DeviceName[:]),
		VendorID:         props.VendorID,
		DeviceID:         props.DeviceID,
		Type:             driver.DeviceType(props.DeviceType),
		APIVersion:       props.ApiVersion,
		DriverVersion:    props.DriverVersion,
		QueueFamilyIndex: family,
		Limits: driver.Limits{
			MaxComputeWorkGroupInvocations: l.MaxComputeWorkGroupInvocations,
			MaxComputeWorkGroupSize:        l.MaxComputeWorkGroupSize,
			MaxComputeWorkGroupCount:       l.MaxComputeWorkGroupCount,
			MaxComputeSharedMemorySize:     l.MaxComputeSharedMemorySize,
			MaxPushConstantsSize:           l.MaxPushConstantsSize,
			MaxStorageBufferRange:          l.MaxStorageBufferRange,
		},
	}
}

func (d *Device) createLogicalDevice() error {
	queueInfos := []vulkan.DeviceQueueCreateInfo{{
		SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	var extensions []string
	if d.opts.Interop {
		extensions = interopDeviceExtensions
	}
	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if d.opts.EnableValidation {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = safeStrings(validationLayers)
	}

	if res := vulkan.CreateDevice(d.physicalDevice, &createInfo, nil, &d.device); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkCreateDevice")
	}
	vulkan.GetDeviceQueue(d.device, d.queueFamily, 0, &d.queue)
	return nil
}
