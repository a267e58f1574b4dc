package providers

import (
	"os"
	"runtime"
)

// SharedLibraryEnv names the environment variable that overrides the onnxruntime location.
const SharedLibraryEnv = "ONNXRUNTIME_LIB_PATH"

// GetSharedLibPath returns the path to the onnxruntime shared library.
//
// Order of resolution:
//  1. The explicit override, when not empty.
//  2. $ONNXRUNTIME_LIB_PATH.
//  3. The platform default.
//
// Arguments:
//   - override: The configured path; may be empty.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv(SharedLibraryEnv); env != "" {
		return env
	}
	return defaultSharedLibPath(runtime.GOOS, runtime.GOARCH)
}

func defaultSharedLibPath(goos, goarch string) string {
	switch goos {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
