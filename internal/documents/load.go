package documents

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"startup-analyst/internal/shared/util"
)

// FromMultipart reads uploaded form files into memory. types, when given,
// is matched to files by index.
func FromMultipart(headers []*multipart.FileHeader, types []string) ([]File, error) {
	if len(headers) == 0 {
		return nil, ErrNoFiles
	}
	files := make([]File, 0, len(headers))
	for i, h := range headers {
		name, err := util.SanitizeFileName(h.Filename)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", h.Filename, err)
		}
		if h.Size > MaxFileSize {
			return nil, fmt.Errorf("%s: %w", name, ErrTooLarge)
		}
		src, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		data, err := io.ReadAll(io.LimitReader(src, MaxFileSize+1))
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		docType := TypePitchDeck
		if i < len(types) {
			docType = ParseDocumentType(types[i])
		}
		files = append(files, File{
			Name:        name,
			ContentType: h.Header.Get("Content-Type"),
			Type:        docType,
			Data:        data,
		})
	}
	return files, nil
}

// FromPaths reads files from disk, used by the command line submitter.
func FromPaths(paths []string, docType DocumentType) ([]File, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	files := make([]File, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.Size() > MaxFileSize {
			return nil, fmt.Errorf("%s: %w", p, ErrTooLarge)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: filepath.Base(p), Type: docType, Data: data})
	}
	return files, nil
}
