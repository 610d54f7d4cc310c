package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/daimatz/minijvm/pkg/classfile"
)

// DefaultClassCacheSize is the number of decoded classes each loader keeps.
const DefaultClassCacheSize = 512

// ClassLoader loads class files by internal name. Loaders report a missing
// class with an error wrapping ErrClassNotFound; any other error means the
// class exists but could not be decoded.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

func newCache(size int) *lru.Cache {
	if size <= 0 {
		size = DefaultClassCacheSize
	}
	c, _ := lru.New(size)
	return c
}

func cached(c *lru.Cache, name string) (*classfile.ClassFile, bool) {
	v, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*classfile.ClassFile), true
}

func decoderOrDefault(d *classfile.Decoder) *classfile.Decoder {
	if d == nil {
		return classfile.DefaultDecoder
	}
	return d
}

// decodeNamed decodes data and checks that it declares the requested name.
func decodeNamed(d *classfile.Decoder, name, source string, data []byte) (*classfile.ClassFile, error) {
	cf, err := decoderOrDefault(d).Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding %s: %w", source, name, err)
	}
	got, err := cf.ClassName()
	if err != nil {
		return nil, fmt.Errorf("%s: decoding %s: %w", source, name, err)
	}
	if got != name {
		return nil, fmt.Errorf("%s: %s.class declares %s", source, name, got)
	}
	return cf, nil
}

// DirClassLoader loads NAME.class files below a directory.
type DirClassLoader struct {
	Dir     string
	Decoder *classfile.Decoder
	cache   *lru.Cache
}

func NewDirClassLoader(dir string, cacheSize int) *DirClassLoader {
	return &DirClassLoader{Dir: dir, cache: newCache(cacheSize)}
}

func (cl *DirClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cached(cl.cache, name); ok {
		return cf, nil
	}
	path := filepath.Join(cl.Dir, filepath.FromSlash(name)+".class")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, name, cl.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("dir: reading %s: %w", path, err)
	}
	cf, err := decodeNamed(cl.Decoder, name, "dir", data)
	if err != nil {
		return nil, err
	}
	cl.cache.Add(name, cf)
	return cf, nil
}

// jmodMagic prefixes the zip payload of a JDK jmod file.
var jmodMagic = []byte{'J', 'M', 0x01, 0x00}

// ArchiveClassLoader loads classes from a jar or a JDK jmod file. The
// archive is read and indexed on first use.
type ArchiveClassLoader struct {
	Path    string
	Decoder *classfile.Decoder

	once    sync.Once
	openErr error
	prefix  string
	index   map[string]*zip.File
	cache   *lru.Cache
}

func NewArchiveClassLoader(path string, cacheSize int) *ArchiveClassLoader {
	return &ArchiveClassLoader{Path: path, cache: newCache(cacheSize)}
}

func (cl *ArchiveClassLoader) open() error {
	cl.once.Do(func() {
		data, err := os.ReadFile(cl.Path)
		if err != nil {
			cl.openErr = fmt.Errorf("archive: reading %s: %w", cl.Path, err)
			return
		}
		if bytes.HasPrefix(data, jmodMagic) {
			data = data[len(jmodMagic):]
			cl.prefix = "classes/"
		}
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			cl.openErr = fmt.Errorf("archive: opening %s: %w", cl.Path, err)
			return
		}
		cl.index = make(map[string]*zip.File, len(zr.File))
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, ".class") {
				cl.index[f.Name] = f
			}
		}
	})
	return cl.openErr
}

func (cl *ArchiveClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cached(cl.cache, name); ok {
		return cf, nil
	}
	if err := cl.open(); err != nil {
		return nil, err
	}
	entry, ok := cl.index[cl.prefix+name+".class"]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrClassNotFound, name, cl.Path)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", entry.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", entry.Name, err)
	}
	cf, err := decodeNamed(cl.Decoder, name, "archive", data)
	if err != nil {
		return nil, err
	}
	cl.cache.Add(name, cf)
	return cf, nil
}

// Names lists the classes in the archive.
func (cl *ArchiveClassLoader) Names() ([]string, error) {
	if err := cl.open(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cl.index))
	for n := range cl.index {
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(n, cl.prefix), ".class"))
	}
	return names, nil
}

// BytesClassLoader serves classes from encoded bytes held in memory.
type BytesClassLoader struct {
	Classes map[string][]byte
	Decoder *classfile.Decoder
}

func (cl *BytesClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	data, ok := cl.Classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return decodeNamed(cl.Decoder, name, "bytes", data)
}

// UserClassLoader loads user classes from a class path, delegating to the
// parent first. Class path entries ending in .jar or .jmod are archives;
// anything else is a directory.
type UserClassLoader struct {
	ClassPath []string
	Parent    ClassLoader
	entries   []ClassLoader
}

func NewUserClassLoader(classPath []string, parent ClassLoader, decoder *classfile.Decoder, cacheSize int) *UserClassLoader {
	cl := &UserClassLoader{ClassPath: classPath, Parent: parent}
	for _, p := range classPath {
		switch strings.ToLower(filepath.Ext(p)) {
		case ".jar", ".jmod", ".zip":
			a := NewArchiveClassLoader(p, cacheSize)
			a.Decoder = decoder
			cl.entries = append(cl.entries, a)
		default:
			d := NewDirClassLoader(p, cacheSize)
			d.Decoder = decoder
			cl.entries = append(cl.entries, d)
		}
	}
	return cl
}

func (cl *UserClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cl.Parent != nil {
		cf, err := cl.Parent.LoadClass(name)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	for _, e := range cl.entries {
		cf, err := e.LoadClass(name)
		if err == nil {
			return cf, nil
		}
		if !errors.Is(err, ErrClassNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s (class path %s)", ErrClassNotFound, name, strings.Join(cl.ClassPath, string(os.PathListSeparator)))
}
