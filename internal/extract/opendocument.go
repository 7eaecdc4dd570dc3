package extract

import (
	"bytes"
	"fmt"
	"regexp"
)

// odfContentPath is the main content part of every OpenDocument package.
const odfContentPath = "content.xml"

var (
	odfTextH    = regexp.MustCompile(`<text:h(?:\s[^>]*)?>([^<]*)</text:h>`)
	odfTextP    = regexp.MustCompile(`<text:p(?:\s[^>]*)?>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span(?:\s[^>]*)?>([^<]*)</text:span>`)
	odfPage     = regexp.MustCompile(`(?s)<draw:page(?:\s[^>]*)?>(.*?)</draw:page>`)
	odfRow      = regexp.MustCompile(`(?s)<table:table-row(?:\s[^>]*)?>(.*?)</table:table-row>`)
	odfCell     = regexp.MustCompile(`(?s)<table:table-cell(?:\s[^>]*?)?(?:/>|>(.*?)</table:table-cell>)`)
)

func readODFContent(kind string, content []byte) ([]byte, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%s: %s not found", kind, odfContentPath)
	}
	return data, nil
}

// odfText joins headings, paragraphs and spans found in xml.
func odfText(xml []byte) string {
	var b bytes.Buffer
	joinMatches(&b, odfTextH.FindAllSubmatch(xml, -1))
	joinMatches(&b, odfTextP.FindAllSubmatch(xml, -1))
	joinMatches(&b, odfTextSpan.FindAllSubmatch(xml, -1))
	return b.String()
}

// extractODT returns the whole text document as one segment.
func extractODT(content []byte) ([]string, error) {
	data, err := readODFContent("ODT", content)
	if err != nil {
		return nil, err
	}
	return []string{odfText(data)}, nil
}

// extractODP returns one segment per draw:page.
func extractODP(content []byte) ([]string, error) {
	data, err := readODFContent("ODP", content)
	if err != nil {
		return nil, err
	}
	pages := odfPage.FindAllSubmatch(data, -1)
	if len(pages) == 0 {
		return []string{odfText(data)}, nil
	}
	segments := make([]string, 0, len(pages))
	for _, p := range pages {
		segments = append(segments, odfText(p[1]))
	}
	return segments, nil
}

// extractODS renders table rows like the other tabular formats.
func extractODS(content []byte) ([]string, error) {
	data, err := readODFContent("ODS", content)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	for _, r := range odfRow.FindAllSubmatch(data, -1) {
		var row []string
		for _, c := range odfCell.FindAllSubmatch(r[1], -1) {
			row = append(row, odfText(c[1]))
		}
		rows = append(rows, row)
	}
	return renderRows(rows), nil
}
