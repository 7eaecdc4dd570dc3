package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// slideRe matches slide parts and captures the slide number.
var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

// extractPPTX returns one segment per slide, in slide order.
func extractPPTX(content []byte) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("PPTX: %w", err)
	}
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, f: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	segments := make([]string, 0, len(slides))
	for _, s := range slides {
		data, err := readZipFile(s.f)
		if err != nil {
			return nil, fmt.Errorf("PPTX: %w", err)
		}
		var b bytes.Buffer
		joinMatches(&b, atTag.FindAllSubmatch(data, -1))
		segments = append(segments, b.String())
	}
	return segments, nil
}
