package upload

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Source is a file waiting to be uploaded.
type Source interface {
	io.ReaderAt
	Name() string
	ContentType() string
	Size() int64
	Close() error
}

type fileSource struct {
	f           *os.File
	name        string
	contentType string
	size        int64
}

// OpenFile opens a local file as an upload source.
func OpenFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	return &fileSource{f: f, name: name, contentType: ContentTypeFor(name), size: info.Size()}, nil
}

// NamedFile wraps an already open file under a caller-chosen name, used for
// staged multipart uploads whose temp file name is meaningless.
func NamedFile(f *os.File, name, contentType string) (Source, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = ContentTypeFor(name)
	}
	return &fileSource{f: f, name: name, contentType: contentType, size: info.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *fileSource) Name() string                              { return s.name }
func (s *fileSource) ContentType() string                       { return s.contentType }
func (s *fileSource) Size() int64                               { return s.size }
func (s *fileSource) Close() error                              { return s.f.Close() }

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mts":  "video/mp2t",
}

func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
