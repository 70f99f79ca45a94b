package pipeline

import (
	"os"

	"github.com/John-Robertt/mihomocli/internal/model"
)

// LoadTemplate reads and parses the template at path.
func LoadTemplate(path string) (*model.Document, error) {
	return loadDocument("parse_template", "TEMPLATE_READ_ERROR", "读取模板失败", path)
}

// LoadBase reads and parses the base config at path.
func LoadBase(path string) (*model.Document, error) {
	return loadDocument("parse_base", "BASE_READ_ERROR", "读取基础配置失败", path)
}

func loadDocument(stage, code, msg, path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{
			AppError: model.AppError{Code: code, Message: msg, Stage: stage, URL: path},
			Cause:    err,
		}
	}
	return model.ParseDocument(stage, path, data)
}
