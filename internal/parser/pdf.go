package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"resume-insight-go/internal/logger"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoparser "github.com/cloudwego/eino/components/document/parser"
)

// 单次解析的时间上限，超大或损坏的PDF不允许拖死上传请求
const parseTimeout = 30 * time.Second

// PDFTextExtractor 从PDF提取纯文本
type PDFTextExtractor struct {
	parser *pdf.PDFParser
}

// NewPDFTextExtractor 初始化PDF文本提取器
// ToPages=false表示整个文档合并为一段连续文本
func NewPDFTextExtractor(ctx context.Context) (*PDFTextExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}
	return &PDFTextExtractor{parser: p}, nil
}

// ExtractText 从Reader中提取PDF全文
func (e *PDFTextExtractor) ExtractText(ctx context.Context, reader io.Reader, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, parseTimeout)
	defer cancel()

	start := time.Now()
	docs, err := e.parser.Parse(ctx, reader, einoparser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("PDF解析失败 (uri=%s): %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("PDF解析无结果 (uri=%s)", uri)
	}

	var b strings.Builder
	for i, doc := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(doc.Content)
	}
	text := b.String()

	logger.Debug().
		Str("uri", uri).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("PDF文本提取完成")
	return text, nil
}

// ExtractTextFromBytes 从字节切片提取PDF全文
func (e *PDFTextExtractor) ExtractTextFromBytes(ctx context.Context, data []byte, uri string) (string, error) {
	return e.ExtractText(ctx, bytes.NewReader(data), uri)
}
