// Package resources makes sure the geo databases Mihomo loads at startup
// exist next to the generated config.
package resources

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/oschwald/maxminddb-golang"

	"github.com/John-Robertt/mihomocli/internal/fetch"
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/store"
)

const DefaultMirror = "https://github.com/MetaCubeX/meta-rules-dat/releases/download/latest/"

// Resource is one file Mihomo expects in its working directory.
type Resource struct {
	// Name is the local file name.
	Name string
	// Remote is the file name on the mirror.
	Remote string
	// Verify rejects payloads that are not usable, nil accepts anything.
	Verify func([]byte) error
}

var Defaults = []Resource{
	{Name: "Country.mmdb", Remote: "country.mmdb", Verify: VerifyMMDB},
	{Name: "geoip.dat", Remote: "geoip.dat"},
	{Name: "geosite.dat", Remote: "geosite.dat"},
}

// VerifyMMDB checks that data opens as a MaxMind database.
func VerifyMMDB(data []byte) error {
	r, err := maxminddb.FromBytes(data)
	if err != nil {
		return err
	}
	return r.Close()
}

type ResourceError struct {
	AppError model.AppError
	Cause    error
}

func (e *ResourceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

type Options struct {
	Dir string
	// Mirrors are URL prefixes tried in order. Empty means DefaultMirror.
	Mirrors   []string
	UserAgent string
	Fetch     fetch.Options
	// Resources defaults to Defaults.
	Resources []Resource
}

// Status reports what Ensure did for one resource.
type Status struct {
	Name    string
	Path    string
	URL     string
	Size    int64
	Skipped bool
	Err     error
}

// HumanSize renders Size for people.
func (s Status) HumanSize() string {
	return humanize.Bytes(uint64(s.Size))
}

// Ensure downloads every missing resource. Failures are reported per
// resource and never stop the others.
func Ensure(ctx context.Context, opt Options) []Status {
	list := opt.Resources
	if list == nil {
		list = Defaults
	}
	mirrors := opt.Mirrors
	if len(mirrors) == 0 {
		mirrors = []string{DefaultMirror}
	}

	out := make([]Status, 0, len(list))
	for _, r := range list {
		st := Status{Name: r.Name, Path: filepath.Join(opt.Dir, r.Name)}
		if info, err := os.Stat(st.Path); err == nil && !info.IsDir() {
			st.Skipped = true
			st.Size = info.Size()
			out = append(out, st)
			continue
		}
		st.URL, st.Size, st.Err = download(ctx, r, st.Path, mirrors, opt)
		out = append(out, st)
	}
	return out
}

func download(ctx context.Context, r Resource, path string, mirrors []string, opt Options) (string, int64, error) {
	var errs []error
	for _, m := range mirrors {
		url := strings.TrimSuffix(m, "/") + "/" + r.Remote
		resp, err := fetch.Get(ctx, fetch.KindResource, fetch.Request{URL: url, UserAgent: opt.UserAgent}, opt.Fetch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r.Verify != nil {
			if err := r.Verify(resp.Body); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				continue
			}
		}
		if err := store.WriteFileAtomic(path, resp.Body, 0o644); err != nil {
			return url, 0, &ResourceError{
				AppError: model.AppError{Code: "RESOURCE_WRITE_ERROR", Message: "写入资源文件失败", Stage: "resources", URL: path},
				Cause:    err,
			}
		}
		return url, int64(len(resp.Body)), nil
	}
	return "", 0, &ResourceError{
		AppError: model.AppError{
			Code:    "RESOURCE_DOWNLOAD_FAILED",
			Message: fmt.Sprintf("所有镜像均无法提供 %s", r.Name),
			Stage:   "resources",
			URL:     r.Remote,
		},
		Cause: errors.Join(errs...),
	}
}
