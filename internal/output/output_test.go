package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MeKo-Tech/naocr/internal/recog"
	"github.com/MeKo-Tech/naocr/internal/recog/recogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPageDocument(t *testing.T) *Document {
	t.Helper()
	info := recog.ImageInfo{Width: 10, Height: 10, ResizeFactor: 1}
	res := recogtest.PageResult(info, "first page", "second page")
	res.Lines[1].Words[0].Confidence = 0.5
	doc, err := NewDocument("scan.pdf", res, []recog.PageOffset{{Start: 0, End: 11}, {Start: 11, End: 23}})
	require.NoError(t, err)
	return doc
}

func TestNewDocument(t *testing.T) {
	doc := twoPageDocument(t)
	assert.Equal(t, "scan.pdf", doc.Source)
	assert.Equal(t, 23, doc.TextLen)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, Page{Index: 1, Start: 11, End: 23, Text: "second page\n"}, doc.Pages[1])

	_, err := NewDocument("x", nil, nil)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	doc := twoPageDocument(t)

	text, err := Render(doc, FormatText)
	require.NoError(t, err)
	assert.Equal(t, "first page\n\fsecond page\n", text)

	js, err := Render(doc, FormatJSON)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(js), &decoded))
	assert.Equal(t, "scan.pdf", decoded["source"])
	assert.Len(t, decoded["pages"], 2)

	csvOut, err := Render(doc, FormatCSV)
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(csvOut), "\n")
	require.Len(t, rows, 5)
	assert.Equal(t, "page,line,x,y,w,h,conf,text", rows[0])
	assert.True(t, strings.HasPrefix(rows[3], "2,2,"), rows[3])
	assert.Contains(t, rows[3], "0.500,second")

	_, err = Render(doc, "xml")
	assert.Error(t, err)
}

func TestRender_SingleImage(t *testing.T) {
	res := recogtest.PageResult(recog.ImageInfo{Width: 1, Height: 1, ResizeFactor: 1}, "only line")
	doc, err := NewDocument("", res, nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Pages)

	text, err := Render(doc, "")
	require.NoError(t, err)
	assert.Equal(t, "only line\n", text)
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("json"))
	assert.False(t, ValidFormat("yaml"))
}
