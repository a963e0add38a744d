// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package csvcodec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dessentialist/rowforge/internal/model"
)

func TestParseStripsBOMAndTrimsHeaders(t *testing.T) {
	data := append(utf8BOM, []byte(" name , country\nA,US\nB,CA\n")...)

	headers, rows, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, []string{"name", "country"}, headers)
	require.Len(t, rows, 2)
	require.Equal(t, "A", rows[0]["name"])
	require.Equal(t, "US", rows[0]["country"])
}

func TestParseEmptyInput(t *testing.T) {
	headers, rows, err := Parse(nil)
	require.NoError(t, err)
	require.Nil(t, headers)
	require.Nil(t, rows)
}

func TestSerializeQuotesFieldsAndUsesLF(t *testing.T) {
	headers := []string{"name", "note"}
	rows := []model.Row{
		{"name": "A", "note": `has "quote", comma`},
	}

	out, err := Serialize(headers, rows)
	require.NoError(t, err)
	require.Equal(t, utf8BOM, out[:3])

	body := string(out[3:])
	require.NotContains(t, body, "\r\n")
	require.Contains(t, body, `"has ""quote"", comma"`)
}

func TestRoundTripPreservesCellValues(t *testing.T) {
	headers := []string{"name", "greeting"}
	rows := []model.Row{
		{"name": "A", "greeting": "HI-US"},
		{"name": "B", "greeting": "HI-CA"},
	}

	out, err := Serialize(headers, rows)
	require.NoError(t, err)

	gotHeaders, gotRows, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, headers, gotHeaders)
	require.Equal(t, rows, gotRows)
}
