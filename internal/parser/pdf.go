package parser

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/spike2204/intelligent-qa/pkg/clients/doc2x"
	"github.com/spike2204/intelligent-qa/pkg/logger"
	"github.com/spike2204/intelligent-qa/pkg/utils"
)

var (
	// Standalone page numbers ("3", "- 12 -") carry no content.
	pageNumberPattern = regexp.MustCompile(`^-?\s*\d+\s*-?$`)

	// Sub-section patterns must be checked before chapter patterns so
	// "1.2 标题" is not swallowed by the "1. 标题" rule.
	headingL2Pattern = regexp.MustCompile(`^(\d+\.\d+\.\d+\.?\s+.+|\d+\.\d+\.?\s+.+)$`)
	headingL1Pattern = regexp.MustCompile(`^(\d+\.\s+.+|第[一二三四五六七八九十百]+[章节条款]\s*.+|[一二三四五六七八九十]+[、.]\s*.+)$`)

	bulletPattern = regexp.MustCompile(`^[●•\-○]\s*(.+)$`)
)

// ConversionCache stores Doc2X conversion results keyed by the MD5 of the
// original PDF bytes, so re-uploads of the same file skip the conversion.
type ConversionCache interface {
	GetDoc2XResult(ctx context.Context, md5Hash string) (string, error)
	CacheDoc2XResult(ctx context.Context, md5Hash string, markdown string) error
}

// PDFParser extracts text natively and falls back to the Doc2X conversion
// service for scanned documents that yield too little text.
type PDFParser struct {
	converter      doc2x.DocumentConverter
	cache          ConversionCache
	minNativeChars int
}

var _ Parser = (*PDFParser)(nil)

// NewPDFParser builds a PDF parser. converter may be nil, in which case
// scanned PDFs fail with a process error instead of being converted; cache
// may be nil, in which case every fallback converts from scratch.
func NewPDFParser(converter doc2x.DocumentConverter, cache ConversionCache, minNativeChars int) *PDFParser {
	return &PDFParser{converter: converter, cache: cache, minNativeChars: minNativeChars}
}

func (p *PDFParser) FileTypes() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, filename string, data []byte) (string, error) {
	native, err := extractNativeText(data)
	if err == nil && len([]rune(native)) >= p.minNativeChars {
		return native, nil
	}

	if p.converter != nil {
		key := fmt.Sprintf("%x", md5.Sum(data))
		if p.cache != nil {
			if cached, cacheErr := p.cache.GetDoc2XResult(ctx, key); cacheErr == nil && cached != "" {
				logger.Get().Info("命中 Doc2X 转换缓存", "filename", filename)
				return cached, nil
			}
		}

		logger.Get().Info("PDF 原生文本不足，转用 Doc2X 解析",
			"filename", filename, "nativeChars", len([]rune(native)))
		markdown, convErr := p.converter.ConvertToMarkdown(ctx, data)
		if convErr != nil {
			logger.Get().Warn("Doc2X 解析失败", "filename", filename, "error", convErr)
			return "", NewProcessError(filename, convErr)
		}
		if strings.TrimSpace(markdown) != "" {
			if p.cache != nil {
				if cacheErr := p.cache.CacheDoc2XResult(ctx, key, markdown); cacheErr != nil {
					logger.Get().Debug("Doc2X 结果缓存写入失败", "filename", filename, "error", cacheErr)
				}
			}
			return markdown, nil
		}
	}

	if err != nil {
		return "", NewProcessError(filename, err)
	}
	if strings.TrimSpace(native) == "" {
		return "", NewProcessError(filename, fmt.Errorf("pdf contains no extractable text"))
	}
	return native, nil
}

// extractNativeText pulls the embedded text layer page by page, preserving
// row structure so heading detection can work on whole lines.
func extractNativeText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			logger.Get().Warn("PDF 页面文本提取失败", "page", i, "error", err)
			continue
		}
		for _, row := range rows {
			for _, t := range row.Content {
				sb.WriteString(t.S)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return normalizePDFText(utils.SanitizeUTF8(sb.String())), nil
}

// normalizePDFText rewrites extracted lines into lightweight markdown so
// the chunker's heading stage sees the document structure: numbered and
// chapter headings get # markers, page numbers are dropped, and bullet
// glyphs become list dashes.
func normalizePDFText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			out = append(out, "")
		case pageNumberPattern.MatchString(line):
			// drop
		case headingL2Pattern.MatchString(line):
			out = append(out, "", "### "+line, "")
		case headingL1Pattern.MatchString(line):
			out = append(out, "", "## "+line, "")
		default:
			if m := bulletPattern.FindStringSubmatch(line); m != nil {
				out = append(out, "- "+m[1])
			} else {
				out = append(out, line)
			}
		}
	}

	joined := multiNewlinePattern.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(joined)
}
