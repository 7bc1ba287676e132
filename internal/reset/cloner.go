package reset

import (
	"context"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/world"
)

// Stages are the primitive dataset operations a hard reset is built from.
// UnloadSync and LoadOrCreateSync must run on the control loop; the file
// operations must not.
type Stages interface {
	UnloadSync(c *control.Ctx, name string) error
	DeleteDirectory(ctx context.Context, name string) error
	CopyDirectory(ctx context.Context, src, dst string) error
	LoadOrCreateSync(c *control.Ctx, name string) (world.Environment, error)
}

// Cloner implements Stages on top of a world.Host and its container directory.
type Cloner struct {
	host *world.Host
}

// NewCloner creates a cloner for the datasets managed by host.
func NewCloner(host *world.Host) *Cloner {
	return &Cloner{host: host}
}

// UnloadSync moves every occupant of the named environment to the fallback
// location and unloads it without saving. An environment that is not loaded is
// left alone.
func (c *Cloner) UnloadSync(cc *control.Ctx, name string) error {
	if !c.host.Loaded(name) {
		log.Printf("[cloner] %s not loaded", name)
		return nil
	}

	fallback := c.host.Fallback()
	for _, client := range c.host.Occupants(cc, name) {
		if err := c.host.Move(cc, client, fallback); err != nil {
			log.Printf("[cloner] failed to evacuate %s from %s: %v", client.Name(), name, err)
		}
	}

	if err := c.host.Unload(cc, name); err != nil {
		return &UnloadError{Name: name, Err: err}
	}
	log.Printf("[cloner] unloaded %s", name)
	return nil
}

// DeleteDirectory removes the named dataset from disk. A missing directory is
// not an error.
func (c *Cloner) DeleteDirectory(ctx context.Context, name string) error {
	target := c.host.Dir(name)
	if _, err := os.Lstat(target); os.IsNotExist(err) {
		log.Printf("[cloner] %s does not exist, nothing to delete", target)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	log.Printf("[cloner] deleting %s", target)
	if err := os.RemoveAll(target); err != nil {
		return &CopyError{Op: "delete", Path: target, Err: err}
	}
	return nil
}

// CopyDirectory copies the src dataset into dst, creating directories as it goes
// and keeping file modes and modification times. Lock markers are skipped and
// the uid marker is removed from dst afterwards. A failed copy removes dst again
// so it is never left half populated.
func (c *Cloner) CopyDirectory(ctx context.Context, src, dst string) error {
	srcDir, dstDir := c.host.Dir(src), c.host.Dir(dst)

	info, err := os.Stat(srcDir)
	if os.IsNotExist(err) {
		return &MissingTemplateError{Template: src, Path: srcDir, Err: err}
	}
	if err != nil {
		return &CopyError{Op: "stat", Path: srcDir, Err: err}
	}
	if !info.IsDir() {
		return &MissingTemplateError{Template: src, Path: srcDir, Err: ErrNotDirectory}
	}

	log.Printf("[cloner] copying %s -> %s", src, dst)
	if err := copyTree(ctx, srcDir, dstDir); err != nil {
		if rmErr := os.RemoveAll(dstDir); rmErr != nil {
			log.Printf("[cloner] failed to clean up %s: %v", dstDir, rmErr)
		}
		return err
	}

	if err := os.Remove(filepath.Join(dstDir, world.UIDMarker)); err != nil && !os.IsNotExist(err) {
		return &CopyError{Op: "remove", Path: filepath.Join(dstDir, world.UIDMarker), Err: err}
	}
	log.Printf("[cloner] finished copying %s -> %s", src, dst)
	return nil
}

// LoadOrCreateSync loads the named environment, creating it if needed.
func (c *Cloner) LoadOrCreateSync(cc *control.Ctx, name string) (world.Environment, error) {
	env, err := c.host.LoadOrCreate(cc, name)
	if err != nil {
		return world.Environment{}, &LoadError{Name: name, Err: err}
	}
	log.Printf("[cloner] loaded %s", env.String())
	return env, nil
}

func copyTree(ctx context.Context, srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &CopyError{Op: "walk", Path: path, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return &CopyError{Op: "walk", Path: path, Err: err}
		}
		out := filepath.Join(dstDir, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return &CopyError{Op: "stat", Path: path, Err: err}
			}
			if err := os.MkdirAll(out, info.Mode().Perm()|0o700); err != nil {
				return &CopyError{Op: "mkdir", Path: out, Err: err}
			}
		case strings.EqualFold(d.Name(), world.LockMarker):
			// Locks belong to whoever has the source loaded.
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return &CopyError{Op: "readlink", Path: path, Err: err}
			}
			_ = os.Remove(out)
			if err := os.Symlink(target, out); err != nil {
				return &CopyError{Op: "symlink", Path: out, Err: err}
			}
		case d.Type().IsRegular():
			if err := copyFile(path, out); err != nil {
				return err
			}
		default:
			log.Printf("[cloner] skipping irregular file %s", path)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return &CopyError{Op: "stat", Path: src, Err: err}
	}

	in, err := os.Open(src)
	if err != nil {
		return &CopyError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return &CopyError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &CopyError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &CopyError{Op: "close", Path: dst, Err: err}
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return &CopyError{Op: "chmod", Path: dst, Err: err}
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return &CopyError{Op: "chtimes", Path: dst, Err: err}
	}
	return nil
}
