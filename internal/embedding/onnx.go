//go:build ort

package embedding

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeLib  string
	runtimeOnce sync.Once
	runtimeErr  error
)

// ConfigureRuntime sets the onnxruntime shared library path. Must be called
// before the first graph is opened; later calls have no effect.
func ConfigureRuntime(libraryPath string) {
	runtimeLib = libraryPath
}

func initRuntime() error {
	runtimeOnce.Do(func() {
		if runtimeLib != "" {
			ort.SetSharedLibraryPath(runtimeLib)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// onnxRunner runs a graph whose inputs are input_ids, optionally followed by
// attention_mask and token_type_ids.
type onnxRunner struct {
	session    *ort.DynamicAdvancedSession
	numInputs  int
	outputName string
}

func defaultRunner(modelPath string) (GraphRunner, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect graph %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("graph %s has no inputs or outputs", modelPath)
	}

	inputNames := make([]string, 0, 3)
	for i := 0; i < len(inputs) && i < 3; i++ {
		inputNames = append(inputNames, inputs[i].Name)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("open session %s: %w", modelPath, err)
	}

	return &onnxRunner{session: session, numInputs: len(inputNames), outputName: outputs[0].Name}, nil
}

func flatten(rows [][]int64) ([]int64, int64, int64) {
	if len(rows) == 0 {
		return nil, 0, 0
	}
	b, s := int64(len(rows)), int64(len(rows[0]))
	out := make([]int64, 0, b*s)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out, b, s
}

func (r *onnxRunner) Run(ids, mask [][]int64) (Tensor, error) {
	flatIDs, b, s := flatten(ids)
	shape := ort.NewShape(b, s)

	values := make([]ort.Value, 0, r.numInputs)
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	idsT, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return Tensor{}, fmt.Errorf("input_ids tensor: %w", err)
	}
	values = append(values, idsT)

	if r.numInputs > 1 {
		flatMask, _, _ := flatten(mask)
		maskT, err := ort.NewTensor(shape, flatMask)
		if err != nil {
			return Tensor{}, fmt.Errorf("attention_mask tensor: %w", err)
		}
		values = append(values, maskT)
	}
	if r.numInputs > 2 {
		typeT, err := ort.NewTensor(shape, make([]int64, b*s))
		if err != nil {
			return Tensor{}, fmt.Errorf("token_type_ids tensor: %w", err)
		}
		values = append(values, typeT)
	}

	outputs := []ort.Value{nil}
	if err := r.session.Run(values, outputs); err != nil {
		return Tensor{}, fmt.Errorf("run %s: %w", r.outputName, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Tensor{}, fmt.Errorf("output %s is not a float32 tensor", r.outputName)
	}

	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return Tensor{Shape: []int64(out.GetShape()), Data: data}, nil
}

func (r *onnxRunner) Close() error {
	return r.session.Destroy()
}
