//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// LocalModel stub type when built without CGO (see onnx.go for the real implementation).
type LocalModel struct{}

// NewLocalModel returns an error when built without CGO (ONNX not available).
func NewLocalModel(_ string, _, _ int) (*LocalModel, error) {
	return nil, errors.New("local models require CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (m *LocalModel) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("local model not available without CGO")
}

func (m *LocalModel) Dimensions() int { return 0 }

func (m *LocalModel) Close() error { return nil }
