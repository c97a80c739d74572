package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/metrics"
)

// Kind is a supported document format.
type Kind string

// Supported formats.
const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

var cellSplit = regexp.MustCompile(`\t+| {2,}|\x{3000}+`)

// Detect picks the format from the file name, then from the content.
func Detect(data []byte, name string) (Kind, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return KindPDF, true
	case ".html", ".htm":
		return KindHTML, true
	case ".txt", ".csv":
		return KindText, true
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return KindPDF, true
	}
	ct := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(ct, "text/html"):
		return KindHTML, true
	case strings.HasPrefix(ct, "text/plain"):
		return KindText, true
	}
	return "", false
}

// FromDocument reads the table rows of a document and extracts its fields.
// Unsupported or unreadable documents yield crawler.ErrExtraction.
func FromDocument(data []byte, name string) (Fields, error) {
	rows, err := Rows(data, name)
	if err != nil {
		metrics.ObserveExtraction(false)
		return Fields{}, err
	}
	metrics.ObserveExtraction(true)
	return Extract(rows), nil
}

// Rows returns the document content as rows of cells.
func Rows(data []byte, name string) ([][]string, error) {
	kind, ok := Detect(data, name)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported document %q", crawler.ErrExtraction, name)
	}
	var (
		rows [][]string
		err  error
	)
	switch kind {
	case KindPDF:
		rows, err = pdfRows(data)
	case KindHTML:
		rows, err = htmlRows(data)
	default:
		rows, err = textRows(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %w", crawler.ErrExtraction, kind, name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %q has no readable rows", crawler.ErrExtraction, kind, name)
	}
	return rows, nil
}

func pdfRows(data []byte) (rows [][]string, err error) {
	// The reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		// Top of the page first.
		sort.SliceStable(lines, func(a, b int) bool {
			return lines[a].Position > lines[b].Position
		})
		for _, row := range lines {
			if cells := splitWords(row.Content); len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
	}
	return rows, nil
}

// splitWords joins the glyph runs of one line into cells, starting a new cell
// wherever the horizontal gap is wider than the font size.
func splitWords(words pdf.TextHorizontal) []string {
	sort.SliceStable(words, func(a, b int) bool { return words[a].X < words[b].X })
	var (
		cells []string
		cur   strings.Builder
		end   = math.Inf(-1)
	)
	for _, w := range words {
		gap := math.Max(w.FontSize, 4)
		if cur.Len() > 0 && w.X-end > gap {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(w.S)
		end = math.Max(end, w.X+w.W)
	}
	if cur.Len() > 0 {
		cells = append(cells, strings.TrimSpace(cur.String()))
	}
	return cells
}

func htmlRows(data []byte) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var rows [][]string
	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	return rows, nil
}

// maxTextLine bounds one line of a plain-text document.
const maxTextLine = 1024 * 1024

func textRows(data []byte) ([][]string, error) {
	var rows [][]string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxTextLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rows = append(rows, cellSplit.Split(line, -1))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read text: %w", crawler.ErrProtocol, err)
	}
	return rows, nil
}
