package documents

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:r><w:t>Acme Robotics</w:t></w:r></w:p>` +
	`<w:p><w:r><w:t>Seed round, 40% growth</w:t></w:r></w:p>` +
	`</w:body></w:document>`

const relsXML = `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

func zipped(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTextDOCX(t *testing.T) {
	data := zipped(t, map[string]string{
		"word/document.xml":            documentXML,
		"word/_rels/document.xml.rels": relsXML,
	})
	text, err := ExtractText(File{Name: "deck.docx", Data: data})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Acme Robotics\nSeed round, 40% growth" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractTextDOCXWithoutRelationships(t *testing.T) {
	data := zipped(t, map[string]string{"word/document.xml": documentXML})
	text, err := ExtractText(File{Name: "deck.docx", Data: data})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Acme Robotics\nSeed round, 40% growth" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestExtractTextUnsupported(t *testing.T) {
	if _, err := ExtractText(File{Name: "memo.doc", Data: []byte("x")}); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
	if _, err := ExtractText(File{Name: "deck.pdf", Data: []byte("%PDF-1.4 broken")}); err == nil {
		t.Fatalf("expected error for broken pdf")
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("  short \n text ", 50); got != "short text" {
		t.Fatalf("unexpected %q", got)
	}
	got := Excerpt("alpha beta gamma delta epsilon", 14)
	if got != "alpha beta…" {
		t.Fatalf("unexpected %q", got)
	}
}
