package driver

// Result is a native driver status code. Values match the Vulkan VkResult
// enumeration so backends can convert with a plain type conversion.
type Result int32

const (
	Success                    Result = 0
	NotReady                   Result = 1
	Timeout                    Result = 2
	EventSet                   Result = 3
	EventReset                 Result = 4
	Incomplete                 Result = 5
	ErrorOutOfHostMemory       Result = -1
	ErrorOutOfDeviceMemory     Result = -2
	ErrorInitializationFailed  Result = -3
	ErrorDeviceLost            Result = -4
	ErrorMemoryMapFailed       Result = -5
	ErrorLayerNotPresent       Result = -6
	ErrorExtensionNotPresent   Result = -7
	ErrorFeatureNotPresent     Result = -8
	ErrorIncompatibleDriver    Result = -9
	ErrorTooManyObjects        Result = -10
	ErrorFormatNotSupported    Result = -11
	ErrorFragmentedPool        Result = -12
	ErrorOutOfPoolMemory       Result = -1000069000
	ErrorInvalidExternalHandle Result = -1000072003
	ErrorSurfaceLost           Result = -1000000000
	ErrorNativeWindowInUse     Result = -1000000001
	Suboptimal                 Result = 1000001003
	ErrorOutOfDate             Result = -1000001004
	ErrorIncompatibleDisplay   Result = -1000003001
	ErrorValidationFailed      Result = -1000011001
	ErrorInvalidShader         Result = -1000012000
)

var resultNames = map[Result]string{
	Success:                    "SUCCESS",
	NotReady:                   "NOT_READY",
	Timeout:                    "TIMEOUT",
	EventSet:                   "EVENT_SET",
	EventReset:                 "EVENT_RESET",
	Incomplete:                 "INCOMPLETE",
	ErrorOutOfHostMemory:       "ERROR_OUT_OF_HOST_MEMORY",
	ErrorOutOfDeviceMemory:     "ERROR_OUT_OF_DEVICE_MEMORY",
	ErrorInitializationFailed:  "ERROR_INITIALIZATION_FAILED",
	ErrorDeviceLost:            "ERROR_DEVICE_LOST",
	ErrorMemoryMapFailed:       "ERROR_MEMORY_MAP_FAILED",
	ErrorLayerNotPresent:       "ERROR_LAYER_NOT_PRESENT",
	ErrorExtensionNotPresent:   "ERROR_EXTENSION_NOT_PRESENT",
	ErrorFeatureNotPresent:     "ERROR_FEATURE_NOT_PRESENT",
	ErrorIncompatibleDriver:    "ERROR_INCOMPATIBLE_DRIVER",
	ErrorTooManyObjects:        "ERROR_TOO_MANY_OBJECTS",
	ErrorFormatNotSupported:    "ERROR_FORMAT_NOT_SUPPORTED",
	ErrorFragmentedPool:        "ERROR_FRAGMENTED_POOL",
	ErrorOutOfPoolMemory:       "ERROR_OUT_OF_POOL_MEMORY",
	ErrorInvalidExternalHandle: "ERROR_INVALID_EXTERNAL_HANDLE",
	ErrorSurfaceLost:           "ERROR_SURFACE_LOST_KHR",
	ErrorNativeWindowInUse:     "ERROR_NATIVE_WINDOW_IN_USE_KHR",
	Suboptimal:                 "SUBOPTIMAL_KHR",
	ErrorOutOfDate:             "ERROR_OUT_OF_DATE_KHR",
	ErrorIncompatibleDisplay:   "ERROR_INCOMPATIBLE_DISPLAY_KHR",
	ErrorValidationFailed:      "ERROR_VALIDATION_FAILED_EXT",
	ErrorInvalidShader:         "ERROR_INVALID_SHADER_NV",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}
