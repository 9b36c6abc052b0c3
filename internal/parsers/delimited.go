package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// delimitedReader reads comma separated text into a grid
type delimitedReader struct {
	config      *LoaderConfig
	windows1252 bool
}

func (l *Loader) newDelimitedReader(windows1252 bool) *delimitedReader {
	return &delimitedReader{config: l.config, windows1252: windows1252}
}

// readDelimitedAuto reads a delimited source, decoding it as Windows-1252 when it is not valid UTF-8
func (l *Loader) readDelimitedAuto(ctx context.Context, name string, data []byte) (*grid, error) {
	reader := l.newDelimitedReader(false)
	if !utf8.Valid(data) {
		l.logger.WithField("source", name).Warn("Source is not valid UTF-8, decoding as Windows-1252")
		reader = l.newDelimitedReader(true)
	}
	return reader.read(ctx, name, data)
}

func (r *delimitedReader) read(ctx context.Context, name string, data []byte) (*grid, error) {
	if err := r.checkBinary(name, data); err != nil {
		return nil, err
	}

	var src io.Reader = bytes.NewReader(data)
	if r.windows1252 {
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	} else if !utf8.Valid(data) {
		return nil, errors.MalformedContentError(name, 0, fmt.Errorf("source is not valid UTF-8 text"))
	}

	reader := csv.NewReader(src)
	reader.Comma = r.config.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = false

	g := &grid{}
	for {
		if len(g.rows)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.InternalError(errors.CodeUnexpectedError, "delimited_read", err)
			}
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, r.wrapReadError(name, err)
		}

		line, _ := reader.FieldPos(0)
		if r.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > r.config.MaxFieldSize {
					return nil, errors.NewMalformedLineError(name, line, fmt.Sprintf("field_%d", i),
						fmt.Errorf("field exceeds maximum size of %d bytes", r.config.MaxFieldSize))
				}
			}
		}

		g.rows = append(g.rows, record)
		g.lines = append(g.lines, line)
	}

	if len(g.rows) == 0 {
		return nil, errors.MalformedContentError(name, 0, fmt.Errorf("source is empty"))
	}
	return g, nil
}

func (r *delimitedReader) wrapReadError(name string, err error) error {
	var parseErr *csv.ParseError
	if stderrors.As(err, &parseErr) {
		column := ""
		if parseErr.Column > 0 {
			column = fmt.Sprintf("position_%d", parseErr.Column)
		}
		return errors.NewMalformedLineError(name, parseErr.Line, column, parseErr.Err)
	}
	return errors.MalformedContentError(name, 0, err)
}

// checkBinary rejects content with NUL bytes near the start, which no text export contains
func (r *delimitedReader) checkBinary(name string, data []byte) error {
	sniff := data
	if r.config.BinarySniffBytes > 0 && len(sniff) > r.config.BinarySniffBytes {
		sniff = sniff[:r.config.BinarySniffBytes]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return errors.MalformedContentError(name, 0, fmt.Errorf("source contains binary data"))
	}
	return nil
}

// delimitedBackend adapts delimitedReader to the spreadsheet backend chain
type delimitedBackend struct {
	reader *delimitedReader
}

func (b delimitedBackend) Name() string {
	if b.reader.windows1252 {
		return BackendDelimitedWindows1252
	}
	return BackendDelimited
}

func (b delimitedBackend) Read(ctx context.Context, name string, data []byte, _ logger.Logger) (*grid, error) {
	return b.reader.read(ctx, name, data)
}
