package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"regchat/security"
)

// minimalPDF builds a small single-font PDF with one content stream per
// page, computing the cross-reference offsets so standard readers accept it.
// An empty page text yields a page with an empty content stream.
func minimalPDF(pages []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	fontNum := 3 + 2*len(pages)

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}

	type object struct {
		num  int
		body string
	}
	objs := []object{
		{1, "<< /Type /Catalog /Pages 2 0 R >>"},
		{2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))},
	}
	for i, text := range pages {
		var stream string
		if text != "" {
			stream = fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		}
		objs = append(objs,
			object{3 + 2*i, fmt.Sprintf(
				"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
				fontNum, 4+2*i)},
			object{4 + 2*i, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream)},
		)
	}
	objs = append(objs, object{fontNum, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"})

	offsets := make(map[int]int)
	for _, o := range objs {
		offsets[o.num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", o.num, o.body)
	}

	xref := buf.Len()
	size := fontNum + 1
	fmt.Fprintf(&buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n < size; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", size, xref)
	return buf.Bytes()
}

func TestFromPDFOneDocumentPerPage(t *testing.T) {
	pdf := minimalPDF([]string{
		"Registration starts on page one",
		"Fees are listed on page two",
	})

	docs, err := FromPDF(bytes.NewReader(pdf), "manual.pdf")
	if err != nil {
		t.Fatalf("FromPDF: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}

	for i, want := range []string{"page one", "page two"} {
		d := docs[i]
		if !strings.Contains(d.Text, want) {
			t.Errorf("page %d text = %q, want it to contain %q", i+1, d.Text, want)
		}
		if d.Metadata.Section != "manual.pdf" {
			t.Errorf("page %d section = %q, want manual.pdf", i+1, d.Metadata.Section)
		}
		if d.Metadata.StepIndex != i+1 {
			t.Errorf("page %d step index = %d, want %d", i+1, d.Metadata.StepIndex, i+1)
		}
		if d.Metadata.StepTitle != fmt.Sprintf("Page %d", i+1) {
			t.Errorf("page %d step title = %q", i+1, d.Metadata.StepTitle)
		}
	}
}

func TestFromPDFSkipsEmptyPages(t *testing.T) {
	pdf := minimalPDF([]string{"", "Only this page has text"})

	docs, err := FromPDF(bytes.NewReader(pdf), "manual.pdf")
	if err != nil {
		t.Fatalf("FromPDF: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].Metadata.StepIndex != 2 {
		t.Errorf("step index = %d, want the original page number 2", docs[0].Metadata.StepIndex)
	}
}

func TestFromPDFNoText(t *testing.T) {
	pdf := minimalPDF([]string{"", ""})

	_, err := FromPDF(bytes.NewReader(pdf), "manual.pdf")
	if !errors.Is(err, security.ErrNoContentExtracted) {
		t.Fatalf("err = %v, want ErrNoContentExtracted", err)
	}
}

func TestFromPDFRejectsGarbage(t *testing.T) {
	_, err := FromPDF(strings.NewReader("not a pdf at all"), "junk.bin")
	if err == nil {
		t.Fatal("expected an error for a non-PDF input")
	}
}
