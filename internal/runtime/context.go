package runtime

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// contextRecipeName is the recipe's filename inside the build context.
const contextRecipeName = "Containerfile"

// buildContext assembles the tar stream the engine consumes. For
// embedded recipes the context holds a single file; for the
// workspace-local custom recipe the workspace directory is sent so COPY
// instructions resolve.
func buildContext(spec BuildSpec) (io.Reader, error) {
	if spec.ContextDir == "" {
		return recipeOnlyContext(spec.Recipe)
	}
	return directoryContext(spec.ContextDir, spec.Recipe)
}

func recipeOnlyContext(recipe []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeTarFile(tw, contextRecipeName, recipe); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize build context: %w", err)
	}
	return &buf, nil
}

func directoryContext(dir string, recipe []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := writeTarFile(tw, contextRecipeName, recipe); err != nil {
		return nil, err
	}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Version-control internals never belong in a build context.
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if rel == contextRecipeName {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tar build context %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize build context: %w", err)
	}
	return &buf, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Unix(0, 0),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	if _, err := io.Copy(tw, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
