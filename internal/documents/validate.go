package documents

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxFileSize caps a single upload.
const MaxFileSize = 25 << 20

var supportedExt = map[string]struct{}{
	".pdf":  {},
	".docx": {},
	".doc":  {},
}

var oleHeader = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Report describes a file that passed validation.
type Report struct {
	Name  string `json:"name"`
	Tag   string `json:"tag"`
	Pages int    `json:"pages,omitempty"`
	Bytes int    `json:"bytes"`
}

// Validate checks every file before anything is sent to the analysis
// service. The first failure is returned, wrapped with the file name.
func Validate(files []File) ([]Report, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	reports := make([]Report, 0, len(files))
	for _, f := range files {
		rep, err := ValidateFile(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// ValidateFile checks one file's extension, size and structure.
func ValidateFile(f File) (Report, error) {
	ext := f.Ext()
	if _, ok := supportedExt[ext]; !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
	}
	if len(f.Data) == 0 {
		return Report{}, ErrEmptyFile
	}
	if len(f.Data) > MaxFileSize {
		return Report{}, ErrTooLarge
	}

	rep := Report{Name: f.Name, Tag: f.Tag(), Bytes: len(f.Data)}
	switch ext {
	case ".pdf":
		pages, err := pdfPages(f.Data)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		rep.Pages = pages
	case ".docx":
		if err := checkDOCX(f.Data); err != nil {
			return Report{}, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
	case ".doc":
		if !bytes.HasPrefix(f.Data, oleHeader) {
			return Report{}, fmt.Errorf("%w: missing OLE header", ErrCorruptDocument)
		}
	}
	return rep, nil
}

// pdfPages opens the document and requires at least one page. The pdf
// reader panics on some malformed inputs, so it is recovered here.
func pdfPages(data []byte) (pages int, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return 0, fmt.Errorf("missing %%PDF header")
	}
	defer func() {
		if rec := recover(); rec != nil {
			pages, err = 0, fmt.Errorf("pdf reader: %v", rec)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	n := r.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("no pages")
	}
	return n, nil
}

func checkDOCX(data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return nil
		}
	}
	return fmt.Errorf("word/document.xml not found")
}
