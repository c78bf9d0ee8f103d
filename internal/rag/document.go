package rag

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// DocumentStore fetches a document and decodes it to plain text.
type DocumentStore struct {
	blobs BlobStore
}

func NewDocumentStore(blobs BlobStore) *DocumentStore {
	return &DocumentStore{blobs: blobs}
}

func (s *DocumentStore) Fetch(ctx context.Context, ref string) (string, error) {
	data, err := s.blobs.Download(ctx, ref)
	if err != nil {
		return "", err
	}
	return DecodeText(ref, data)
}

// DecodeText extracts text from a PDF when name ends in .pdf, otherwise
// requires data to be UTF-8.
func DecodeText(name string, data []byte) (string, error) {
	if isPDF(name) {
		return extractPDFText(data)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("decode %s: %w", name, ErrInvalidEncoding)
	}
	return string(data), nil
}

func isPDF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// extractPDFText concatenates page text in page order. Pages without a text
// layer, such as scanned images, contribute nothing.
func extractPDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("extract pdf: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		sb.WriteString(content)
	}
	return sb.String(), nil
}
