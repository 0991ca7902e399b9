package extractor

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"regchat/security"
)

// Metadata carries the retrieval metadata attached to every extracted
// document and preserved through chunking into the index.
type Metadata struct {
	Section   string `json:"section"`
	StepIndex int    `json:"step_index"`
	StepTitle string `json:"step_title"`
	ImageURL  string `json:"image_url,omitempty"`
}

// Document is a pre-split text segment with metadata.
type Document struct {
	Text     string
	Metadata Metadata
}

// Class tokens marking the image container that follows a step header.
var imageContainerClasses = []string{"py-2", "flex", "justify-center", "items-center"}

// FromHTML extracts step-by-step registration documents from an HTML guide.
//
// The guide's collapsible <details> elements each hold one section: the
// first <h2> is the section title, each <p> containing "Step" is a step
// header, the <ul> following a header in document order holds the step body,
// and an optional image container div supplies a visual guide URL. A
// trailing "What you will need" block becomes a Requirements document.
//
// When the page yields no documents, FromHTML returns ErrNoContentExtracted.
// That is not fatal: the caller serves stock replies without retrieval.
func FromHTML(r io.Reader) ([]Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var docs []Document

	doc.Find("details").Each(func(_ int, sec *goquery.Selection) {
		sectionTitle := strings.TrimSpace(sec.Find("h2").First().Text())
		root := sec.Get(0)

		stepIndex := 0
		sec.Find("p").Each(func(_ int, p *goquery.Selection) {
			title := strings.TrimSpace(p.Text())
			if !strings.Contains(title, "Step") {
				return
			}
			stepIndex++

			body := stepBody(p.Get(0), root)
			meta := Metadata{
				Section:   sectionTitle,
				StepIndex: stepIndex,
				StepTitle: title,
				ImageURL:  stepImage(p.Get(0), root),
			}
			docs = append(docs, Document{
				Text:     strings.TrimSpace(title + ": " + body),
				Metadata: meta,
			})
		})
	})

	if req := requirementsDocument(doc); req != nil {
		docs = append(docs, *req)
	}

	if len(docs) == 0 {
		return nil, security.ErrNoContentExtracted
	}
	return docs, nil
}

// requirementsDocument extracts the "What you will need" block, if present.
func requirementsDocument(doc *goquery.Document) *Document {
	header := doc.Find("p").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "What you will need")
	}).First()
	if header.Length() == 0 {
		return nil
	}

	body := stepBody(header.Get(0), nil)
	if body == "" {
		return nil
	}
	return &Document{
		Text: strings.TrimSpace("What you will need: " + body),
		Metadata: Metadata{
			Section:   "Requirements",
			StepIndex: 0,
			StepTitle: "What you will need",
		},
	}
}

// stepBody collects the list-item text of the first <ul> following start in
// document order, bounded by root (nil means the whole document).
func stepBody(start, root *html.Node) string {
	ul := findNext(start, root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "ul"
	})
	if ul == nil {
		return ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			if t := textContent(n); t != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(ul)
	return b.String()
}

// stepImage finds the src of an <img> inside the image container div that
// follows start in document order, or "" when the step has no visual guide.
func stepImage(start, root *html.Node) string {
	div := findNext(start, root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "div" && hasClasses(n, imageContainerClasses)
	})
	if div == nil {
		return ""
	}
	img := findNext(div, div, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "img"
	})
	if img == nil {
		return ""
	}
	return attr(img, "src")
}

// findNext returns the first node after start in document order (including
// start's descendants) matching the predicate, stopping at the edge of the
// subtree rooted at root.
func findNext(start, root *html.Node, match func(*html.Node) bool) *html.Node {
	for n := nextInDoc(start, root); n != nil; n = nextInDoc(n, root) {
		if match(n) {
			return n
		}
	}
	return nil
}

// nextInDoc is the document-order successor of n within the root subtree.
func nextInDoc(n, root *html.Node) *html.Node {
	if n.FirstChild != nil {
		return n.FirstChild
	}
	for ; n != nil && n != root; n = n.Parent {
		if n.NextSibling != nil {
			return n.NextSibling
		}
	}
	return nil
}

func hasClasses(n *html.Node, classes []string) bool {
	have := strings.Fields(attr(n, "class"))
	for _, want := range classes {
		found := false
		for _, c := range have {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
