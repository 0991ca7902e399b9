package extractor

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"regchat/security"
)

// FromPDF extracts one document per page from a PDF manual. The source name
// becomes the section and the page number the step index, so retrieval
// results can point back at a page.
func FromPDF(r io.Reader, source string) ([]Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var docs []Document
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		docs = append(docs, Document{
			Text: text,
			Metadata: Metadata{
				Section:   source,
				StepIndex: pageNum,
				StepTitle: fmt.Sprintf("Page %d", pageNum),
			},
		})
	}

	if len(docs) == 0 {
		return nil, security.ErrNoContentExtracted
	}
	return docs, nil
}
