// Package store owns the files mihomocli keeps between runs: the runtime
// directory layout, the subscription list and the app state.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomocli/internal/model"
)

type StoreError struct {
	AppError model.AppError
	Cause    error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func newStoreError(path, code, msg string, cause error) error {
	return &StoreError{
		AppError: model.AppError{
			Code:    code,
			Message: msg,
			Stage:   "store",
			URL:     path,
		},
		Cause: cause,
	}
}

// loadYAML decodes path into out. A missing file leaves out untouched and
// reports false.
func loadYAML(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, newStoreError(path, "STORE_READ_ERROR", "读取状态文件失败", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, newStoreError(path, "STORE_PARSE_ERROR", "状态文件 YAML 解析失败", err)
	}
	return true, nil
}

func saveYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return newStoreError(path, "STORE_WRITE_ERROR", "序列化状态失败", err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return newStoreError(path, "STORE_WRITE_ERROR", "写入状态文件失败", err)
	}
	return nil
}
