package model

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"plaindex/pkg/common"
)

// Hinge is a one-hidden-layer ReLU network equivalent to a connected
// polyline: each neuron switches on at a breakpoint and contributes the slope
// change there.
//
//	y = bias2 + sum_i w2[i] * max(0, w1[i]*x + b1[i])
type Hinge struct {
	weights1 []float64
	biases1  []float64
	weights2 []float64
	bias2    float64
}

const maxNeurons = 1 << 24

// NewHinge builds the network for a connected breakpoint sequence. For keys
// at or above the first breakpoint it reproduces Polyline.Predict; below it
// the output is pinned to the first rank.
func NewHinge(bps []common.Breakpoint) (*Hinge, error) {
	if len(bps) == 0 {
		return nil, fmt.Errorf("%w: no breakpoints", common.ErrInvalidInput)
	}
	if !common.IsConnected(bps) {
		return nil, fmt.Errorf("%w: hinge network needs connected segments", common.ErrInvalidInput)
	}

	n := len(bps)
	h := &Hinge{
		weights1: make([]float64, n),
		biases1:  make([]float64, n),
		weights2: make([]float64, n),
		bias2:    float64(bps[0].Rank),
	}

	prev := 0.0
	for i, bp := range bps {
		cur := bp.Slope
		h.weights1[i] = math.Abs(cur - prev)
		h.biases1[i] = -h.weights1[i] * float64(bp.Key)
		if cur > prev {
			h.weights2[i] = 1
		} else {
			h.weights2[i] = -1
		}
		prev = cur
	}
	return h, nil
}

func (h *Hinge) Neurons() int { return len(h.weights1) }

func (h *Hinge) Predict(key common.KeyType) float64 {
	x := float64(key)
	out := h.bias2
	for i := range h.weights1 {
		a := h.weights1[i]*x + h.biases1[i]
		if a > 0 {
			out += h.weights2[i] * a
		}
	}
	return out
}

func (h *Hinge) SizeInBytes() int { return 4 + 8*(3*len(h.weights1)+1) }

// Save writes the network as little-endian: neuron count (u32), weights1,
// biases1, weights2 (f64 each), bias2 (f64).
func (h *Hinge) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(h.weights1))); err != nil {
		return err
	}
	for _, arr := range [][]float64{h.weights1, h.biases1, h.weights2} {
		if err := binary.Write(bw, binary.LittleEndian, arr); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, h.bias2); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadHinge reads a network written by Save.
func LoadHinge(r io.Reader) (*Hinge, error) {
	br := bufio.NewReader(r)
	var n uint32
	if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
		return nil, truncated(err)
	}
	if n > maxNeurons {
		return nil, fmt.Errorf("%w: hinge network claims %d neurons", common.ErrCorruptFormat, n)
	}
	h := &Hinge{}
	for _, arr := range []*[]float64{&h.weights1, &h.biases1, &h.weights2} {
		v, err := readFloats(br, int(n))
		if err != nil {
			return nil, err
		}
		*arr = v
	}
	if err := binary.Read(br, binary.LittleEndian, &h.bias2); err != nil {
		return nil, truncated(err)
	}
	return h, nil
}

// readChunk is how many floats readFloats takes per step, so a short stream
// fails before the claimed length is allocated.
const readChunk = 1 << 16

func readFloats(r io.Reader, n int) ([]float64, error) {
	out := make([]float64, 0, min(n, readChunk))
	buf := make([]float64, min(n, readChunk))
	for len(out) < n {
		c := min(n-len(out), readChunk)
		if err := binary.Read(r, binary.LittleEndian, buf[:c]); err != nil {
			return nil, truncated(err)
		}
		out = append(out, buf[:c]...)
	}
	return out, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: hinge network truncated", common.ErrCorruptFormat)
	}
	return err
}
