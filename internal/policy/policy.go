package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Policy is a reconstructed feed-forward policy: structural metadata plus
// the named parameter tensors the metadata implies. Inference itself runs
// in the external runtime; the validator only needs faithful parameters.
type Policy struct {
	Meta   Metadata
	params map[string]Tensor
}

// New builds a fresh policy skeleton from validated metadata. Every
// parameter starts zeroed with its final shape; the skeleton defines the
// exact key set a weights blob must match.
func New(meta Metadata) *Policy {
	p := &Policy{Meta: meta, params: make(map[string]Tensor)}

	prev := meta.ObsDim
	for i, width := range meta.NetArch {
		p.params[fmt.Sprintf("net.%d.weight", i)] = zeros(width, prev)
		p.params[fmt.Sprintf("net.%d.bias", i)] = zeros(width)
		prev = width
	}
	p.params["action_net.weight"] = zeros(meta.ActDim, prev)
	p.params["action_net.bias"] = zeros(meta.ActDim)
	if meta.UseSDE {
		p.params["log_std"] = zeros(meta.ActDim)
	}
	return p
}

func zeros(shape ...int) Tensor {
	t := Tensor{Shape: shape}
	t.Data = make([]float64, t.Numel())
	return t
}

// ParamNames returns the policy's parameter names in sorted order.
func (p *Policy) ParamNames() []string {
	names := make([]string, 0, len(p.params))
	for name := range p.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Param returns a named parameter tensor.
func (p *Policy) Param(name string) (Tensor, bool) {
	t, ok := p.params[name]
	return t, ok
}

// LoadState copies weights into the policy with strict key matching: any
// missing, unexpected, or mis-shaped parameter is a hard failure and the
// policy is left untouched. There is no partial load.
func (p *Policy) LoadState(weights map[string]Tensor) error {
	var missing, unexpected, mismatched []string

	for name, want := range p.params {
		got, ok := weights[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !sameShape(want.Shape, got.Shape) {
			mismatched = append(mismatched, fmt.Sprintf("%s (want %v, got %v)", name, want.Shape, got.Shape))
		}
	}
	for name := range weights {
		if _, ok := p.params[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}

	if len(missing) > 0 || len(unexpected) > 0 || len(mismatched) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		sort.Strings(mismatched)
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing="+strings.Join(missing, ","))
		}
		if len(unexpected) > 0 {
			parts = append(parts, "unexpected="+strings.Join(unexpected, ","))
		}
		if len(mismatched) > 0 {
			parts = append(parts, "shape="+strings.Join(mismatched, ";"))
		}
		return &IntegrityError{Kind: KindKeyMismatch, Detail: strings.Join(parts, " ")}
	}

	for name, t := range weights {
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		p.params[name] = Tensor{Shape: append([]int(nil), t.Shape...), Data: data}
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
