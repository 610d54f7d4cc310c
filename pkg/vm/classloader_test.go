package vm

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/daimatz/minijvm/pkg/classfile"
)

func classBytes(t *testing.T, name, super string) []byte {
	t.Helper()
	data, err := classfile.NewBuilder(name, super).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeClass(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeArchive zips files (entry name to content) into path, behind
// prefix. Zip offsets are relative to the end of prefix, as in a jmod.
func writeArchive(t *testing.T, path string, prefix []byte, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(prefix)
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func assertClass(t *testing.T, cl ClassLoader, name string) {
	t.Helper()
	cf, err := cl.LoadClass(name)
	if err != nil {
		t.Fatalf("loading %s: %v", name, err)
	}
	if got, _ := cf.ClassName(); got != name {
		t.Errorf("loaded %s, want %s", got, name)
	}
}

func TestDirClassLoader(t *testing.T) {
	dir := t.TempDir()
	writeClass(t, dir, "com/example/Hello", classBytes(t, "com/example/Hello", "java/lang/Object"))
	writeClass(t, dir, "Liar", classBytes(t, "Other", "java/lang/Object"))
	writeClass(t, dir, "Broken", []byte{0xCA, 0xFE})

	cl := NewDirClassLoader(dir, 0)
	assertClass(t, cl, "com/example/Hello")

	first, _ := cl.LoadClass("com/example/Hello")
	second, _ := cl.LoadClass("com/example/Hello")
	if first != second {
		t.Error("second load was not served from the cache")
	}

	if _, err := cl.LoadClass("Missing"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("missing: got %v", err)
	}
	if _, err := cl.LoadClass("Liar"); err == nil || errors.Is(err, ErrClassNotFound) {
		t.Errorf("mismatched name: got %v", err)
	}
	if _, err := cl.LoadClass("Broken"); !errors.Is(err, classfile.ErrClassFormat) {
		t.Errorf("truncated: got %v", err)
	}
}

func TestArchiveClassLoader(t *testing.T) {
	dir := t.TempDir()

	t.Run("jar", func(t *testing.T) {
		path := filepath.Join(dir, "app.jar")
		writeArchive(t, path, nil, map[string][]byte{
			"app/Main.class":       classBytes(t, "app/Main", "java/lang/Object"),
			"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
		})
		cl := NewArchiveClassLoader(path, 4)
		assertClass(t, cl, "app/Main")
		names, err := cl.Names()
		if err != nil || len(names) != 1 || names[0] != "app/Main" {
			t.Errorf("names: got %v, %v", names, err)
		}
		if _, err := cl.LoadClass("app/Other"); !errors.Is(err, ErrClassNotFound) {
			t.Errorf("missing: got %v", err)
		}
	})

	t.Run("jmod", func(t *testing.T) {
		path := filepath.Join(dir, "java.base.jmod")
		writeArchive(t, path, jmodMagic, map[string][]byte{
			"classes/java/lang/Object.class": classBytes(t, "java/lang/Object", ""),
			"classes/module-info.class":      classBytes(t, "module-info", ""),
		})
		cl := NewArchiveClassLoader(path, 4)
		assertClass(t, cl, "java/lang/Object")
		names, err := cl.Names()
		if err != nil || len(names) != 2 {
			t.Errorf("names: got %v, %v", names, err)
		}
	})

	t.Run("not an archive", func(t *testing.T) {
		path := filepath.Join(dir, "junk.jar")
		if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
			t.Fatal(err)
		}
		cl := NewArchiveClassLoader(path, 4)
		_, err := cl.LoadClass("Any")
		if err == nil || errors.Is(err, ErrClassNotFound) {
			t.Errorf("got %v", err)
		}
	})
}

func TestUserClassLoader(t *testing.T) {
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes")
	writeClass(t, classes, "Shadowed", classBytes(t, "Shadowed", "java/lang/Object"))
	writeClass(t, classes, "Local", classBytes(t, "Local", "java/lang/Object"))
	jar := filepath.Join(dir, "lib.jar")
	writeArchive(t, jar, nil, map[string][]byte{
		"lib/Util.class": classBytes(t, "lib/Util", "java/lang/Object"),
	})

	parent := &BytesClassLoader{Classes: map[string][]byte{
		"Shadowed": classBytes(t, "Shadowed", "Local"),
	}}
	cl := NewUserClassLoader([]string{classes, jar}, parent, nil, 0)

	assertClass(t, cl, "Local")
	assertClass(t, cl, "lib/Util")
	cf, err := cl.LoadClass("Shadowed")
	if err != nil {
		t.Fatal(err)
	}
	if got := cf.SuperClassName(); got != "Local" {
		t.Errorf("Shadowed came from the class path, not the parent (super %s)", got)
	}
	if _, err := cl.LoadClass("Nowhere"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("missing: got %v", err)
	}
}

func TestUserClassLoaderStopsOnBrokenClass(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeClass(t, first, "Dup", []byte{0xCA, 0xFE, 0xBA, 0xBE})
	writeClass(t, second, "Dup", classBytes(t, "Dup", "java/lang/Object"))

	cl := NewUserClassLoader([]string{first, second}, nil, nil, 0)
	if _, err := cl.LoadClass("Dup"); !errors.Is(err, classfile.ErrClassFormat) {
		t.Errorf("got %v, want the decode error of the first entry", err)
	}
}

func TestVersionLimitedDecoder(t *testing.T) {
	data := classBytes(t, "Modern", "java/lang/Object")
	data[7] = 61
	strict := &classfile.Decoder{MinMajorVersion: 45, MaxMajorVersion: 52}
	cl := &BytesClassLoader{Classes: map[string][]byte{"Modern": data}, Decoder: strict}
	if _, err := cl.LoadClass("Modern"); !errors.Is(err, classfile.ErrClassFormat) {
		t.Errorf("strict decoder: got %v", err)
	}
	cl.Decoder = nil
	assertClass(t, cl, "Modern")
}
