package targz

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type Visitor interface {
	VisitDirectory(path string, info fs.FileInfo) error
	VisitFile(path string, info fs.FileInfo) (io.WriteCloser, error)
}

// Pack writes dir as a gzipped tarball. Entry names are relative to
// dir, so extraction never escapes its target.
func Pack(dir string, output io.Writer) error {
	gzipWriter := gzip.NewWriter(output)
	tarWriter := tar.NewWriter(gzipWriter)

	err := filepath.Walk(dir, func(path string, info fs.FileInfo, err error) error {
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

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tarWriter, file)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "Failed to pack directory")
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func Extract(input io.Reader, visitor Visitor) error {
	gzipReader, err := gzip.NewReader(input)
	if err != nil {
		return err
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		info := header.FileInfo()
		if info.IsDir() {
			err = visitor.VisitDirectory(header.Name, info)
			if err != nil {
				return err
			}
			continue
		}

		writer, err := visitor.VisitFile(header.Name, info)
		if err != nil {
			return err
		}

		_, err = io.Copy(writer, tarReader)
		if err != nil {
			writer.Close()
			return err
		}

		err = writer.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

type fsVisitor struct {
	root string
}

// resolve rejects entry names that would land outside the root.
func (v *fsVisitor) resolve(name string) (string, error) {
	path := filepath.Join(v.root, filepath.FromSlash(name))
	if !strings.HasPrefix(path, filepath.Clean(v.root)+string(os.PathSeparator)) {
		return "", errors.Errorf("entry %q escapes extraction root", name)
	}
	return path, nil
}

func (v *fsVisitor) VisitDirectory(name string, info fs.FileInfo) error {
	path, err := v.resolve(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, info.Mode())
}

func (v *fsVisitor) VisitFile(name string, info fs.FileInfo) (io.WriteCloser, error) {
	path, err := v.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
}

func ExtractToDir(input io.Reader, path string) error {
	err := os.MkdirAll(path, 0755)
	if err != nil {
		return err
	}

	return Extract(input, &fsVisitor{root: path})
}
