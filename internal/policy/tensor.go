package policy

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"sync"

	pickle "github.com/kisielk/og-rek"
)

// Tensor is a dense numeric parameter. The restricted deserialization
// path below reconstructs nothing else: no object graphs, no code
// references, no nested containers beyond the fixed shape/data layout.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Numel returns the element count implied by the shape.
func (t Tensor) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// probePayload is a classic code-execution pickle: GLOBAL os.system
// applied via REDUCE. A safe decoder must either refuse it or surface it
// as inert data that the tensor walk rejects.
var probePayload = []byte("cos\nsystem\n(S'true'\ntR.")

var (
	probeOnce sync.Once
	probeErr  error
)

// VerifyDecoderSafety probes the pickle decoder once per process and
// fails closed unless code references provably cannot execute. This is a
// behavioral check, not a version heuristic.
func VerifyDecoderSafety() error {
	probeOnce.Do(func() {
		v, err := pickle.NewDecoder(bytes.NewReader(probePayload)).Decode()
		if err != nil {
			// Decoder refuses code references outright.
			return
		}
		switch v.(type) {
		case pickle.Call, *pickle.Call:
			// Surfaced as inert data; the tensor walk rejects it.
			return
		}
		probeErr = &IntegrityError{
			Kind:   KindDecoderUnsafe,
			Detail: fmt.Sprintf("decoder resolved a code-reference pickle to %T; refusing to load weights", v),
		}
	})
	return probeErr
}

// DecodeTensors reads a weights blob through the restricted path. The
// payload must be exactly a dict of parameter name to {"shape", "data"};
// any other structure is an unsafe payload.
func DecodeTensors(r io.Reader) (map[string]Tensor, error) {
	if err := VerifyDecoderSafety(); err != nil {
		return nil, err
	}

	root, err := pickle.NewDecoder(r).Decode()
	if err != nil {
		return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("decoding weights: %v", err)}
	}

	dict, err := asDict(root)
	if err != nil {
		return nil, err
	}

	tensors := make(map[string]Tensor, len(dict))
	for k, v := range dict {
		name, ok := k.(string)
		if !ok {
			return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("non-string parameter key %T", k)}
		}
		t, err := asTensor(name, v)
		if err != nil {
			return nil, err
		}
		tensors[name] = t
	}
	return tensors, nil
}

// EncodeTensors writes the weights blob format DecodeTensors accepts.
// Participant tooling and tests use this to produce artifacts.
func EncodeTensors(w io.Writer, tensors map[string]Tensor) error {
	dict := make(map[string]any, len(tensors))
	for name, t := range tensors {
		shape := make([]any, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = d
		}
		data := make([]any, len(t.Data))
		for i, v := range t.Data {
			data[i] = v
		}
		dict[name] = map[string]any{"shape": shape, "data": data}
	}
	if err := pickle.NewEncoder(w).Encode(dict); err != nil {
		return fmt.Errorf("encoding weights: %w", err)
	}
	return nil
}

func asDict(v any) (map[any]any, error) {
	switch d := v.(type) {
	case map[any]any:
		return d, nil
	default:
		return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("weights root is %T, want dict", v)}
	}
}

func asTensor(name string, v any) (Tensor, error) {
	entry, ok := v.(map[any]any)
	if !ok {
		return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q is %T, want dict", name, v)}
	}
	if len(entry) != 2 {
		return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q has %d fields, want shape and data", name, len(entry))}
	}

	rawShape, ok := entry["shape"]
	if !ok {
		return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q missing shape", name)}
	}
	rawData, ok := entry["data"]
	if !ok {
		return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q missing data", name)}
	}

	shapeItems, err := asSequence(name, rawShape)
	if err != nil {
		return Tensor{}, err
	}
	shape := make([]int, len(shapeItems))
	for i, s := range shapeItems {
		n, err := asInt(s)
		if err != nil || n <= 0 {
			return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q has invalid dimension %v", name, s)}
		}
		shape[i] = n
	}

	dataItems, err := asSequence(name, rawData)
	if err != nil {
		return Tensor{}, err
	}
	data := make([]float64, len(dataItems))
	for i, d := range dataItems {
		f, err := asFloat(d)
		if err != nil {
			return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q has non-numeric element %T", name, d)}
		}
		data[i] = f
	}

	t := Tensor{Shape: shape, Data: data}
	if t.Numel() != len(data) {
		return Tensor{}, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q: shape implies %d elements, got %d", name, t.Numel(), len(data))}
	}
	return t, nil
}

func asSequence(name string, v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case pickle.Tuple:
		return []any(s), nil
	default:
		return nil, &IntegrityError{Kind: KindUnsafePayload, Detail: fmt.Sprintf("parameter %q field is %T, want sequence", name, v)}
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case *big.Int:
		if n.IsInt64() {
			return int(n.Int64()), nil
		}
	}
	return 0, fmt.Errorf("not an integer: %T", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
