package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadScript_RejectsWrongSuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"run.sh", "run.ha.sh.bak", "ha.sh", "notes.txt"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("echo hi\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		_, err := LoadScript(path)
		if !errors.Is(err, ErrUnsupportedScript) {
			t.Errorf("LoadScript(%q) err=%v, want ErrUnsupportedScript", name, err)
		}
	}
}

func TestLoadScript_Missing(t *testing.T) {
	_, err := LoadScript(filepath.Join(t.TempDir(), "gone.ha.sh"))
	if !errors.Is(err, ErrScriptNotFound) {
		t.Fatalf("err=%v, want ErrScriptNotFound", err)
	}
}

func TestLoadScript_DirectoryIsNotAScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folder.ha.sh")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := LoadScript(path)
	if !errors.Is(err, ErrScriptNotFound) {
		t.Fatalf("err=%v, want ErrScriptNotFound", err)
	}
}

func TestLoadScript_CanonicalizesSymlinks(t *testing.T) {
	realDir := t.TempDir()
	target := filepath.Join(realDir, "deploy.ha.sh")
	if err := os.WriteFile(target, []byte("true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	linkDir := t.TempDir()
	link := filepath.Join(linkDir, "deploy.ha.sh")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	script, err := LoadScript(link)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}
	if script.Path() != want {
		t.Errorf("Path()=%q, want %q", script.Path(), want)
	}
	if script.Dir() != filepath.Dir(want) {
		t.Errorf("Dir()=%q, want %q", script.Dir(), filepath.Dir(want))
	}
	if script.Name() != "deploy" {
		t.Errorf("Name()=%q, want deploy", script.Name())
	}
}

func TestLoadScript_BrokenSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling.ha.sh")
	if err := os.Symlink(filepath.Join(dir, "missing"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, err := LoadScript(link)
	if !errors.Is(err, ErrScriptNotFound) {
		t.Fatalf("err=%v, want ErrScriptNotFound", err)
	}
}
