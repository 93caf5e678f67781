package rmbg

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Session is a loaded, ready-to-run segmentation network.
type Session interface {
	// Run feeds t to the model's single input and returns its first output.
	Run(ctx context.Context, t *Tensor) (*RawOutput, error)
	Close() error
}

// Loader turns a model file into a Session.
type Loader interface {
	Load(modelPath string) (Session, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(modelPath string) (Session, error)

func (f LoaderFunc) Load(modelPath string) (Session, error) { return f(modelPath) }

// Backend reports whether the ONNX Runtime backend can be used at all.
type Backend int

const (
	BackendUnavailable Backend = iota
	BackendAvailable
)

func (b Backend) String() string {
	if b == BackendAvailable {
		return "available"
	}
	return "unavailable"
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return fmt.Errorf("failed to init ORT env: %w", envErr)
	}
	return nil
}

// ResolveBackend initializes the ONNX Runtime environment once and reports
// whether it is usable. Call it at startup; the answer does not change.
func ResolveBackend(cfg *Config) Backend {
	cfg = cfg.withDefaults()
	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		cfg.Logger.Warn("segmentation backend unavailable", "error", err)
		return BackendUnavailable
	}
	return BackendAvailable
}

// ORTLoader loads models with ONNX Runtime.
type ORTLoader struct {
	cfg *Config
}

func NewORTLoader(cfg *Config) *ORTLoader {
	return &ORTLoader{cfg: cfg.withDefaults()}
}

func (l *ORTLoader) Load(modelPath string) (Session, error) {
	if err := initEnvironment(l.cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares %d inputs and %d outputs", modelPath, len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]

	session, err := createSession(modelPath, in.Name, out.Name, l.cfg)
	if err != nil {
		return nil, err
	}

	return &ortSession{
		session:   session,
		inputName: in.Name,
		inputPool: newTensorPool(ort.NewShape(1, 3, InputSize, InputSize)),
		outPool:   newStaticTensorPool(out.Dimensions),
	}, nil
}

func createSession(modelPath, inputName, outputName string, cfg *Config) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(cfg.IntraOpNumThreads)
	options.SetInterOpNumThreads(cfg.InterOpNumThreads)
	options.SetCpuMemArena(cfg.CpuMemArena)
	options.SetMemPattern(cfg.MemPattern)
	options.SetExecutionMode(ort.ExecutionModeSequential)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return session, nil
}

type ortSession struct {
	session   *ort.DynamicAdvancedSession
	sessionMu sync.Mutex
	inputName string
	inputPool *ortTensorPool
	// nil when the model's output shape is dynamic
	outPool *ortTensorPool
}

func (s *ortSession) Run(_ context.Context, t *Tensor) (*RawOutput, error) {
	if len(t.Data) != int(t.Shape[0]*t.Shape[1]*t.Shape[2]*t.Shape[3]) {
		return nil, fmt.Errorf("tensor shape %v does not match %d values", t.Shape, len(t.Data))
	}
	if t.Shape != [4]int64{1, 3, InputSize, InputSize} {
		return nil, fmt.Errorf("input %q expects shape [1 3 %d %d], got %v", s.inputName, InputSize, InputSize, t.Shape)
	}

	input, err := s.inputPool.get()
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer s.inputPool.put(input)
	copy(input.GetData(), t.Data)

	outputs := []ort.Value{nil}
	var pooled *ort.Tensor[float32]
	if s.outPool != nil {
		pooled, err = s.outPool.get()
		if err != nil {
			return nil, fmt.Errorf("failed to create output tensor: %w", err)
		}
		defer s.outPool.put(pooled)
		outputs[0] = pooled
	}

	s.sessionMu.Lock()
	err = s.session.Run([]ort.Value{input}, outputs)
	s.sessionMu.Unlock()
	if err != nil {
		return nil, err
	}

	result := pooled
	if result == nil {
		defer outputs[0].Destroy()
		var ok bool
		result, ok = outputs[0].(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unexpected output type %T", outputs[0])
		}
	}

	data := result.GetData()
	raw := &RawOutput{
		Shape: append([]int64(nil), result.GetShape()...),
		Data:  make([]float32, len(data)),
	}
	copy(raw.Data, data)
	return raw, nil
}

// Close destroys the session and every pooled tensor.
func (s *ortSession) Close() error {
	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	errs = append(errs, s.inputPool.destroy())
	if s.outPool != nil {
		errs = append(errs, s.outPool.destroy())
	}
	return errors.Join(errs...)
}
