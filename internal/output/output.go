// Package output delivers a rendered configuration to its destination.
package output

import (
	"context"
	"fmt"
	"io"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/store"
)

// Deployer writes the final YAML somewhere.
type Deployer interface {
	Deploy(ctx context.Context, data []byte) error
	// Target names the destination for messages.
	Target() string
}

type OutputError struct {
	AppError model.AppError
	Cause    error
}

func (e *OutputError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *OutputError) Unwrap() error { return e.Cause }

// FileDeployer replaces Path atomically.
type FileDeployer struct {
	Path string
}

func (d FileDeployer) Deploy(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.WriteFileAtomic(d.Path, data, 0o644); err != nil {
		return &OutputError{
			AppError: model.AppError{Code: "OUTPUT_WRITE_ERROR", Message: "写入输出配置失败", Stage: "output", URL: d.Path},
			Cause:    err,
		}
	}
	return nil
}

func (d FileDeployer) Target() string { return d.Path }

// WriterDeployer writes to W, usually stdout.
type WriterDeployer struct {
	W    io.Writer
	Name string
}

func (d WriterDeployer) Deploy(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.W.Write(data); err != nil {
		return &OutputError{
			AppError: model.AppError{Code: "OUTPUT_WRITE_ERROR", Message: "输出配置失败", Stage: "output", URL: d.Target()},
			Cause:    err,
		}
	}
	return nil
}

func (d WriterDeployer) Target() string {
	if d.Name == "" {
		return "<stdout>"
	}
	return d.Name
}
