package worldsync

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/paulschiretz/pgl-worldreset/pkg/ignore"
	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// helper to create a file with specific content.
func createFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir for test file: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
}

// helper to create a symlink.
func createSymlink(t *testing.T, oldname, newname string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping symlink test on Windows.")
	}
	if err := os.MkdirAll(filepath.Dir(newname), 0755); err != nil {
		t.Fatalf("failed to create dir for test symlink: %v", err)
	}
	if err := os.Symlink(oldname, newname); err != nil {
		t.Fatalf("failed to create symlink from %s to %s: %v", oldname, newname, err)
	}
}

// helper to check if a path exists without following links.
func pathExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Lstat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	t.Fatalf("unexpected error checking path %s: %v", path, err)
	return false
}

func readLink(t *testing.T, path string) string {
	t.Helper()
	target, err := os.Readlink(path)
	if err != nil {
		t.Fatalf("expected %s to be a symlink: %v", path, err)
	}
	return target
}

func TestCopyWorlds_IgnoresAtEveryDepth(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	createFile(t, filepath.Join(src, "world", "a.txt"), "hello")
	createFile(t, filepath.Join(src, "world", "session.lock"), "lock")
	createFile(t, filepath.Join(src, "world", "region", "session.lock"), "lock")
	createFile(t, filepath.Join(src, "world", "region", "r.0.0.mca"), "chunk")

	s := NewSyncer(0)
	if err := s.CopyWorlds(src, dst, []string{"world"}, ignore.New([]string{"session.lock"})); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}

	if got, err := os.ReadFile(filepath.Join(dst, "world", "a.txt")); err != nil || string(got) != "hello" {
		t.Errorf("expected a.txt with content 'hello', got %q (err %v)", got, err)
	}
	if !pathExists(t, filepath.Join(dst, "world", "region", "r.0.0.mca")) {
		t.Error("expected region/r.0.0.mca to be copied")
	}
	for _, p := range []string{"world/session.lock", "world/region/session.lock"} {
		if pathExists(t, filepath.Join(dst, p)) {
			t.Errorf("expected %s to be ignored", p)
		}
	}
	if n := s.metrics.FilesExcluded.Load(); n != 2 {
		t.Errorf("expected 2 excluded files, got %d", n)
	}
}

func TestCopyWorlds_IgnoredDirectoryIsSkipped(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	createFile(t, filepath.Join(src, "world", "cache", "blob"), "x")
	createFile(t, filepath.Join(src, "world", "level.dat"), "x")

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, ignore.New([]string{"cache"})); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}
	if pathExists(t, filepath.Join(dst, "world", "cache")) {
		t.Error("expected ignored directory to be skipped")
	}
	if !pathExists(t, filepath.Join(dst, "world", "level.dat")) {
		t.Error("expected sibling of ignored directory to be copied")
	}
}

func TestCopyWorlds_WorldRootNeverIgnored(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createFile(t, filepath.Join(src, "world", "level.dat"), "x")

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, ignore.New([]string{"world"})); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}
	if !pathExists(t, filepath.Join(dst, "world", "level.dat")) {
		t.Error("expected the world itself to be copied even if its name matches a rule")
	}
}

func TestCopyWorlds_SingleFileWorldKeepsPermissions(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	path := filepath.Join(src, "worlds", "flat.dat")
	createFile(t, path, "data")
	if err := os.Chmod(path, 0640); err != nil {
		t.Fatal(err)
	}

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"worlds/flat.dat"}, nil); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(dst, "worlds", "flat.dat"))
	if err != nil {
		t.Fatalf("expected file to be copied: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0640 {
		t.Errorf("expected permissions 0640, got %o", info.Mode().Perm())
	}
}

func TestCopyWorlds_MissingWorldIsSkipped(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createFile(t, filepath.Join(src, "world", "level.dat"), "x")

	s := NewSyncer(0)
	if err := s.CopyWorlds(src, dst, []string{"world_nether", "world"}, nil); err != nil {
		t.Fatalf("expected missing world to be skipped, got error: %v", err)
	}
	if !pathExists(t, filepath.Join(dst, "world", "level.dat")) {
		t.Error("expected the existing world to be copied after the missing one")
	}
	if n := s.metrics.WorldsSkipped.Load(); n != 1 {
		t.Errorf("expected 1 skipped world, got %d", n)
	}
}

func TestCopyWorlds_UnreadableFileFails(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	src := t.TempDir()
	dst := t.TempDir()

	path := filepath.Join(src, "world", "level.dat")
	createFile(t, path, "x")
	if err := os.Chmod(path, 0000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(path, 0644) })

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, nil); err == nil {
		t.Fatal("expected an error for an unreadable source file")
	}
}

func TestCopyAndRemove_SymlinkChain(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	// world -> hop -> real/
	createFile(t, filepath.Join(src, "real", "level.dat"), "level")
	createSymlink(t, "real", filepath.Join(src, "hop"))
	createSymlink(t, "hop", filepath.Join(src, "world"))

	s := NewSyncer(0)
	if err := s.CopyWorlds(src, dst, []string{"world"}, nil); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}

	if got := readLink(t, filepath.Join(dst, "world")); got != "hop" {
		t.Errorf("expected dst/world -> hop, got %q", got)
	}
	if got := readLink(t, filepath.Join(dst, "hop")); got != "real" {
		t.Errorf("expected dst/hop -> real, got %q", got)
	}
	if got, err := os.ReadFile(filepath.Join(dst, "world", "level.dat")); err != nil || string(got) != "level" {
		t.Errorf("expected level.dat to be reachable through the copied chain, got %q (err %v)", got, err)
	}
	if n := s.metrics.LinksCreated.Load(); n != 2 {
		t.Errorf("expected 2 links created, got %d", n)
	}

	if err := s.RemoveWorlds(src, []string{"world"}); err != nil {
		t.Fatalf("RemoveWorlds failed: %v", err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected nothing left behind, found %d entries", len(entries))
	}
	if n := s.metrics.LinksRemoved.Load(); n != 2 {
		t.Errorf("expected 2 links removed, got %d", n)
	}
}

func TestCopyWorlds_AbsoluteLinkTargetKeptVerbatim(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	real := filepath.Join(src, "data", "world")
	createFile(t, filepath.Join(real, "level.dat"), "x")
	createSymlink(t, real, filepath.Join(src, "world"))

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, nil); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}
	if got := readLink(t, filepath.Join(dst, "world")); got != real {
		t.Errorf("expected verbatim absolute target %q, got %q", real, got)
	}
	if !pathExists(t, filepath.Join(dst, "data", "world", "level.dat")) {
		t.Error("expected the real directory to be copied to its mirrored location")
	}
}

func TestCopyWorlds_NestedLinksAreFollowed(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	shared := t.TempDir()

	createFile(t, filepath.Join(src, "world", "level.dat"), "x")
	createSymlink(t, "level.dat", filepath.Join(src, "world", "level.lnk"))
	createFile(t, filepath.Join(shared, "data.json"), "{}")
	createFile(t, filepath.Join(shared, "session.lock"), "lock")
	createSymlink(t, shared, filepath.Join(src, "world", "datapacks"))

	m := ignore.New([]string{"session.lock"})
	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, m); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}

	for _, rel := range []string{"level.lnk", "datapacks", filepath.Join("datapacks", "data.json")} {
		info, err := os.Lstat(filepath.Join(dst, "world", rel))
		if err != nil {
			t.Fatalf("expected %s in the backup: %v", rel, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			t.Errorf("expected %s to be copied content, got a link", rel)
		}
	}
	if got, err := os.ReadFile(filepath.Join(dst, "world", "level.lnk")); err != nil || string(got) != "x" {
		t.Errorf("expected level.lnk to hold the linked content, got %q (err %v)", got, err)
	}
	if pathExists(t, filepath.Join(dst, "world", "datapacks", "session.lock")) {
		t.Error("expected ignore rules to apply below a followed link")
	}
}

func TestCopyWorlds_NestedLinkSurvivesRemoval(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	// world/DIM1 points into another world of the same set.
	createFile(t, filepath.Join(src, "world_nether", "DIM1", "region.mca"), "nether")
	createFile(t, filepath.Join(src, "world", "level.dat"), "x")
	createSymlink(t, filepath.Join(src, "world_nether", "DIM1"), filepath.Join(src, "world", "DIM1"))

	s := NewSyncer(0)
	worlds := []string{"world", "world_nether"}
	if err := s.CopyWorlds(src, dst, worlds, nil); err != nil {
		t.Fatalf("CopyWorlds failed: %v", err)
	}
	if err := s.RemoveWorlds(src, worlds); err != nil {
		t.Fatalf("RemoveWorlds failed: %v", err)
	}
	if got, err := os.ReadFile(filepath.Join(dst, "world", "DIM1", "region.mca")); err != nil || string(got) != "nether" {
		t.Errorf("expected the linked data in the backup after removal, got %q (err %v)", got, err)
	}
}

func TestCopyWorlds_DanglingNestedLinkFails(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	createFile(t, filepath.Join(src, "world", "level.dat"), "x")
	createSymlink(t, "gone", filepath.Join(src, "world", "broken"))

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, nil); err == nil {
		t.Fatal("expected a dangling nested link to fail the copy")
	}
}

func TestCopyWorlds_NestedLinkCycleFails(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	createFile(t, filepath.Join(src, "world", "level.dat"), "x")
	createSymlink(t, "..", filepath.Join(src, "world", "sub", "up"))

	err := NewSyncer(0).CopyWorlds(src, dst, []string{"world"}, nil)
	if !errors.Is(err, ErrTooManyLinks) {
		t.Fatalf("expected ErrTooManyLinks for a link back into the tree, got %v", err)
	}
}

func TestCopyAndRemove_DanglingLink(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createSymlink(t, "gone", filepath.Join(src, "world"))

	s := NewSyncer(0)
	if err := s.CopyWorlds(src, dst, []string{"world"}, nil); err != nil {
		t.Fatalf("expected dangling link to be skipped, got: %v", err)
	}
	if got := readLink(t, filepath.Join(dst, "world")); got != "gone" {
		t.Errorf("expected link to be reproduced before the skip, got %q", got)
	}

	if err := s.RemoveWorlds(src, []string{"world"}); err != nil {
		t.Fatalf("expected dangling link removal to succeed, got: %v", err)
	}
	if pathExists(t, filepath.Join(src, "world")) {
		t.Error("expected the dangling link entry to be removed")
	}
}

func TestCopyWorlds_LinkLoopFails(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createSymlink(t, "b", filepath.Join(src, "a"))
	createSymlink(t, "a", filepath.Join(src, "b"))

	if err := NewSyncer(0).CopyWorlds(src, dst, []string{"a"}, nil); err == nil {
		t.Fatal("expected a link loop to fail the copy")
	}
}

func TestRemoveWorlds_LinkLoopTerminates(t *testing.T) {
	root := t.TempDir()
	createSymlink(t, "b", filepath.Join(root, "a"))
	createSymlink(t, "a", filepath.Join(root, "b"))

	if err := NewSyncer(0).RemoveWorlds(root, []string{"a"}); err != nil {
		t.Fatalf("RemoveWorlds failed: %v", err)
	}
	if pathExists(t, filepath.Join(root, "a")) || pathExists(t, filepath.Join(root, "b")) {
		t.Error("expected both link entries to be removed")
	}
}

func TestRemoveWorlds_FilesDirsAndMissing(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "world", "region", "r.0.0.mca"), "x")
	createFile(t, filepath.Join(root, "single.dat"), "x")
	createFile(t, filepath.Join(root, "keep", "level.dat"), "x")

	s := NewSyncer(0)
	if err := s.RemoveWorlds(root, []string{"world", "single.dat", "missing"}); err != nil {
		t.Fatalf("RemoveWorlds failed: %v", err)
	}
	if pathExists(t, filepath.Join(root, "world")) || pathExists(t, filepath.Join(root, "single.dat")) {
		t.Error("expected world and single.dat to be removed")
	}
	if !pathExists(t, filepath.Join(root, "keep", "level.dat")) {
		t.Error("expected unlisted directory to be kept")
	}
	if n := s.metrics.WorldsSkipped.Load(); n != 1 {
		t.Errorf("expected 1 skipped world, got %d", n)
	}
}

func TestLinkChainTooLong(t *testing.T) {
	root := t.TempDir()
	// l0 -> l1 -> ... -> l(maxLinkHops+1), never bottoming out at a real entry
	// before the hop limit is reached.
	for i := 0; i <= maxLinkHops+1; i++ {
		createSymlink(t, linkName(i+1), filepath.Join(root, linkName(i)))
	}
	createFile(t, filepath.Join(root, linkName(maxLinkHops+2)), "x")

	err := NewSyncer(0).CopyWorlds(root, t.TempDir(), []string{linkName(0)}, nil)
	if !errors.Is(err, ErrTooManyLinks) {
		t.Fatalf("expected ErrTooManyLinks, got %v", err)
	}
}

func linkName(i int) string {
	return "l" + string(rune('a'+i/26)) + string(rune('a'+i%26))
}
