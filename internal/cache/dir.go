package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/John-Robertt/mihomocli/internal/store"
)

const (
	bodySuffix = ".yaml"
	metaSuffix = ".meta.json"
)

// DirStore keeps <key>.yaml (raw payload) and <key>.meta.json (validators)
// side by side in one directory.
type DirStore struct {
	Dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{Dir: dir}
}

func (s *DirStore) bodyPath(id string) string {
	return filepath.Join(s.Dir, Key(id)+bodySuffix)
}

func (s *DirStore) metaPath(id string) string {
	return filepath.Join(s.Dir, Key(id)+metaSuffix)
}

func (s *DirStore) Load(ctx context.Context, id string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.bodyPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newCacheError(id, "读取缓存失败", err)
	}
	e := &Entry{ID: id, Body: body, Size: int64(len(body))}

	// A missing or corrupt meta file only loses the validators.
	if raw, err := os.ReadFile(s.metaPath(id)); err == nil && gjson.ValidBytes(raw) {
		readMeta(raw, e)
	}
	return e, nil
}

func (s *DirStore) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	if err := store.WriteFileAtomic(s.bodyPath(e.ID), e.Body, 0o644); err != nil {
		return newCacheError(e.ID, "写入缓存失败", err)
	}
	meta, err := writeMeta(e)
	if err != nil {
		return newCacheError(e.ID, "生成缓存元数据失败", err)
	}
	if err := store.WriteFileAtomic(s.metaPath(e.ID), meta, 0o644); err != nil {
		return newCacheError(e.ID, "写入缓存元数据失败", err)
	}
	return nil
}

func (s *DirStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, newCacheError("", "读取缓存目录失败", err)
	}
	var out []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, bodySuffix) {
			continue
		}
		key := strings.TrimSuffix(name, bodySuffix)
		e := Entry{ID: key}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
			e.UpdatedAt = info.ModTime().UTC()
		}
		if raw, err := os.ReadFile(filepath.Join(s.Dir, key+metaSuffix)); err == nil && gjson.ValidBytes(raw) {
			readMeta(raw, &e)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DirStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range []string{s.bodyPath(id), s.metaPath(id)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return newCacheError(id, "删除缓存失败", err)
		}
	}
	return nil
}

func (s *DirStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dirEntries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return newCacheError("", "读取缓存目录失败", err)
	}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !(strings.HasSuffix(name, bodySuffix) || strings.HasSuffix(name, metaSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return newCacheError("", "删除缓存失败", err)
		}
	}
	return nil
}

func readMeta(raw []byte, e *Entry) {
	meta := gjson.ParseBytes(raw)
	if id := meta.Get("id"); id.Exists() {
		e.ID = id.String()
	}
	e.ETag = meta.Get("etag").String()
	e.LastModified = meta.Get("last_modified").String()
	if ts := meta.Get("updated_at").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.UpdatedAt = t
		}
	}
}

func writeMeta(e Entry) ([]byte, error) {
	raw := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value string
	}{
		{"id", e.ID},
		{"etag", e.ETag},
		{"last_modified", e.LastModified},
		{"updated_at", e.UpdatedAt.UTC().Format(time.RFC3339)},
	} {
		if kv.value == "" {
			continue
		}
		if raw, err = sjson.SetBytes(raw, kv.path, kv.value); err != nil {
			return nil, err
		}
	}
	return raw, nil
}
