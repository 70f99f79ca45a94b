package store

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed defaults/template.yaml
var defaultTemplate []byte

// DefaultTemplateName is the file seeded into the templates directory.
const DefaultTemplateName = "cvr_template.yaml"

// Paths locates every file mihomocli reads or writes. ConfigDir defaults to
// ~/.config/mihomocli and CacheDir to ~/.cache/mihomocli.
type Paths struct {
	ConfigDir string
	CacheDir  string
}

// DefaultPaths resolves the directories under the user's home.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, newStoreError("", "STORE_HOME_UNKNOWN", "无法确定用户主目录", err)
	}
	return Paths{
		ConfigDir: filepath.Join(home, ".config", "mihomocli"),
		CacheDir:  filepath.Join(home, ".cache", "mihomocli"),
	}, nil
}

func (p Paths) TemplatesDir() string      { return filepath.Join(p.ConfigDir, "templates") }
func (p Paths) ResourcesDir() string      { return filepath.Join(p.ConfigDir, "resources") }
func (p Paths) OutputDir() string         { return filepath.Join(p.ConfigDir, "output") }
func (p Paths) OutputConfigPath() string  { return filepath.Join(p.OutputDir(), "config.yaml") }
func (p Paths) SubscriptionsFile() string { return filepath.Join(p.ConfigDir, "subscriptions.yaml") }
func (p Paths) AppStateFile() string      { return filepath.Join(p.ConfigDir, "app.yaml") }
func (p Paths) SettingsFile() string      { return filepath.Join(p.ConfigDir, "settings.yaml") }
func (p Paths) BaseConfigPath() string    { return filepath.Join(p.ConfigDir, "base-config.yaml") }
func (p Paths) CacheDBPath() string       { return filepath.Join(p.ConfigDir, "cache.db") }
func (p Paths) LogFile() string           { return filepath.Join(p.ConfigDir, "logs", "mihomocli.log") }
func (p Paths) SubscriptionCacheDir() string {
	return filepath.Join(p.CacheDir, "subscriptions")
}

func (p Paths) DefaultTemplatePath() string {
	return filepath.Join(p.TemplatesDir(), DefaultTemplateName)
}

// EnsureRuntimeDirs creates the directory tree and seeds the default template
// when it is missing. Existing files are never overwritten.
func (p Paths) EnsureRuntimeDirs() error {
	for _, dir := range []string{p.ConfigDir, p.TemplatesDir(), p.ResourcesDir(), p.OutputDir(), p.SubscriptionCacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return newStoreError(dir, "STORE_MKDIR_ERROR", "创建目录失败", err)
		}
	}
	tpl := p.DefaultTemplatePath()
	if _, err := os.Stat(tpl); errors.Is(err, fs.ErrNotExist) {
		if err := WriteFileAtomic(tpl, defaultTemplate, 0o644); err != nil {
			return newStoreError(tpl, "STORE_WRITE_ERROR", "写入默认模板失败", err)
		}
	}
	return nil
}

// ResolveTemplatePath resolves a relative template path under TemplatesDir.
// An empty value selects the default template.
func (p Paths) ResolveTemplatePath(path string) string {
	switch {
	case path == "":
		return p.DefaultTemplatePath()
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(p.TemplatesDir(), path)
	}
}

// ResolveBasePath resolves the base config location. A relative path is
// taken under ConfigDir; an empty value selects base-config.yaml when it
// exists. ok is false when no base config applies.
func (p Paths) ResolveBasePath(path string) (string, bool) {
	if path != "" {
		if filepath.IsAbs(path) {
			return path, true
		}
		return filepath.Join(p.ConfigDir, path), true
	}
	def := p.BaseConfigPath()
	if info, err := os.Stat(def); err == nil && !info.IsDir() {
		return def, true
	}
	return "", false
}

// DefaultTemplate returns the embedded template bytes.
func DefaultTemplate() []byte {
	return append([]byte(nil), defaultTemplate...)
}
