package documents

import (
	"path/filepath"
	"strings"
)

// DocumentType tells the analysis service how to read a file.
type DocumentType string

const (
	TypePitchDeck          DocumentType = "pitch_deck"
	TypeFinancialStatement DocumentType = "financial_statement"
	TypeBusinessPlan       DocumentType = "business_plan"
	TypeCallTranscript     DocumentType = "call_transcript"
	TypeMarketResearch     DocumentType = "market_research"
	TypeOther              DocumentType = "other"
)

// ParseDocumentType defaults unknown values to pitch_deck.
func ParseDocumentType(raw string) DocumentType {
	switch DocumentType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeFinancialStatement:
		return TypeFinancialStatement
	case TypeBusinessPlan:
		return TypeBusinessPlan
	case TypeCallTranscript:
		return TypeCallTranscript
	case TypeMarketResearch:
		return TypeMarketResearch
	case TypeOther:
		return TypeOther
	default:
		return TypePitchDeck
	}
}

// File is one document submitted for analysis, held in memory.
type File struct {
	Name        string
	ContentType string
	Type        DocumentType
	Data        []byte
}

// Ext returns the lower-case extension including the dot.
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name))
}

// Tag returns the short format tag used in results (pdf, docx, doc).
func (f File) Tag() string {
	return strings.TrimPrefix(f.Ext(), ".")
}

// Tags returns the distinct format tags of files in order.
func Tags(files []File) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, f := range files {
		tag := f.Tag()
		if _, ok := seen[tag]; ok || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
)

// MimeType derives the content type from the extension when the client did
// not send a specific one.
func (f File) MimeType() string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(f.ContentType, ";")[0]))
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	switch f.Ext() {
	case ".pdf":
		return mimePDF
	case ".docx":
		return mimeDOCX
	case ".doc":
		return mimeDOC
	default:
		return "application/octet-stream"
	}
}
