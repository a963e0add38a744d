// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package csvcodec parses and serializes the CSV tables the Row Loop
// reads as input and writes as partial/final output: UTF-8 BOM
// handling, RFC 4180 quoting, and LF line endings.
package csvcodec

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/dessentialist/rowforge/internal/model"
)

// utf8BOM is the three-byte UTF-8 byte order mark.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse reads a CSV table, stripping any UTF-8 BOM on the first header
// and trimming every header. The first record is treated as the header
// row; every subsequent record is mapped to those header names.
func Parse(data []byte) (headers []string, rows []model.Row, err error) {
	stripped, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return nil, nil, err
	}

	reader := csv.NewReader(bytes.NewReader(stripped))
	reader.FieldsPerRecord = -1

	headerRecord, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	headers = make([]string, len(headerRecord))
	for i, h := range headerRecord {
		headers[i] = strings.TrimSpace(h)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(model.Row, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = record[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return headers, rows, nil
}

// Serialize writes headers then rows (in the given order) as CSV with
// a leading UTF-8 BOM and LF line endings.
func Serialize(headers []string, rows []model.Row) ([]byte, error) {
	var body bytes.Buffer
	w := csv.NewWriter(&body)
	w.UseCRLF = false

	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := make([]string, len(headers))
		for i, h := range headers {
			record[i] = row[h]
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(utf8BOM)+body.Len())
	out = append(out, utf8BOM...)
	out = append(out, body.Bytes()...)
	return out, nil
}
