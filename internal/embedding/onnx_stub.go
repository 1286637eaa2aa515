//go:build !ort

package embedding

import "errors"

// defaultRunner is used when the binary was built without onnxruntime.
func defaultRunner(modelPath string) (GraphRunner, error) {
	return nil, errors.New("inference graph support not compiled in (rebuild with -tags ort): " + modelPath)
}

// ConfigureRuntime is a no-op without the ort build tag.
func ConfigureRuntime(libraryPath string) {}
