package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema("doc_id",
		[2]string{"doc_id", "Document Number"},
		[2]string{"date", "Recording Date"},
		[2]string{"grantor", "Grantor"},
	)
	require.NoError(t, err)
	return s
}

func TestNewSchema(t *testing.T) {
	s := testSchema(t)
	assert.Equal(t, []string{"doc_id", "date", "grantor"}, s.Fields())
	assert.Equal(t, "doc_id", s.KeyField())
	assert.Equal(t, 3, s.Len())

	header, ok := s.Header("date")
	assert.True(t, ok)
	assert.Equal(t, "Recording Date", header)
	assert.False(t, s.Has("apn"))
}

func TestNewSchema_Errors(t *testing.T) {
	t.Run("duplicate field", func(t *testing.T) {
		_, err := NewSchema("doc_id", [2]string{"doc_id", "A"}, [2]string{"doc_id", "B"})
		assert.ErrorContains(t, err, "duplicate")
	})
	t.Run("key not mapped", func(t *testing.T) {
		_, err := NewSchema("doc_id", [2]string{"date", "Recording Date"})
		assert.ErrorContains(t, err, "key field")
	})
	t.Run("empty", func(t *testing.T) {
		_, err := NewSchema("doc_id")
		assert.Error(t, err)
	})
	t.Run("empty header falls back to name", func(t *testing.T) {
		s, err := NewSchema("doc_id", [2]string{"doc_id", ""})
		require.NoError(t, err)
		h, _ := s.Header("doc_id")
		assert.Equal(t, "doc_id", h)
	})
}

func TestSchema_ColumnIndex(t *testing.T) {
	s := testSchema(t)

	index, missing := s.ColumnIndex([]string{"  document   NUMBER ", "Grantor", "Recording Date", "Extra"})
	assert.Empty(t, missing)
	assert.Equal(t, map[string]int{"doc_id": 0, "grantor": 1, "date": 2}, index)

	_, missing = s.ColumnIndex([]string{"Document Number"})
	assert.Equal(t, []string{"date", "grantor"}, missing)
}

func TestRecord(t *testing.T) {
	s := testSchema(t)

	r := NewRecord(s, 2, 5)
	assert.Equal(t, 2, r.Page)
	assert.Equal(t, 5, r.Row)
	assert.Len(t, r.Fields, 3)
	assert.Equal(t, []string{"", "", ""}, r.Values(s))

	r.Fields["doc_id"] = "A1"
	r.Fields["date"] = "2024-01-01"
	assert.Equal(t, "A1", r.Key(s))
	assert.Equal(t, "2024-01-01", r.Get("date"))
	assert.Equal(t, []string{"A1", "2024-01-01", ""}, r.Values(s))
}

func TestPage(t *testing.T) {
	p := Page{Number: 1}
	assert.True(t, p.Empty())
	assert.Equal(t, 0, p.Len())

	p.Records = append(p.Records, Record{Page: 1, Row: 1})
	assert.False(t, p.Empty())
	assert.Equal(t, 1, p.Len())
}

func TestNewRun(t *testing.T) {
	now := time.Date(2025, 5, 12, 10, 15, 0, 0, time.UTC)
	r := NewRun(now)

	assert.Equal(t, "20250512_101500", r.ID)
	assert.NotEqual(t, [16]byte{}, [16]byte(r.UUID))
	assert.Equal(t, now, r.StartedAt)

	r.AddPage(1)
	r.AddPage(2)
	r.AddFailure(3, "timeout")
	assert.Equal(t, []int{1, 2}, r.Pages)
	assert.Equal(t, []PageFailure{{Page: 3, Reason: "timeout"}}, r.Failures)
}

func TestCleanCell(t *testing.T) {
	assert.Equal(t, "SMITH JOHN", CleanCell("  SMITH\n\t JOHN "))
	assert.Equal(t, "A B", CleanCell("A B"))
	assert.Equal(t, "", CleanCell("   "))
}
