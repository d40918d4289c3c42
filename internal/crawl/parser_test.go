package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title> Bulletins qualité </title></head>
<body>
  <a href="/docs/bulletin-2021.pdf">Bulletin <b>2021</b></a>
  <a href="archives.html#top">Archives</a>
  <a href="archives.html">Archives again</a>
  <a href="mailto:contact@example.org">Mail</a>
  <a href="https://other.example.org/report.PDF">Report</a>
  <a href="">empty</a>
</body></html>`

func TestParsePage(t *testing.T) {
	t.Run("Should extract title and absolute links", func(t *testing.T) {
		page, err := ParsePage("https://example.org/eau/index.html", []byte(samplePage))
		require.NoError(t, err)

		assert.Equal(t, "Bulletins qualité", page.Title)
		assert.Equal(t, []Link{
			{URL: "https://example.org/docs/bulletin-2021.pdf", Text: "Bulletin 2021"},
			{URL: "https://example.org/eau/archives.html", Text: "Archives"},
			{URL: "https://other.example.org/report.PDF", Text: "Report"},
		}, page.Links)
	})

	t.Run("Should keep only PDF links", func(t *testing.T) {
		page, err := ParsePage("https://example.org/", []byte(samplePage))
		require.NoError(t, err)

		pdfs := page.PDFs()
		require.Len(t, pdfs, 2)
		assert.Equal(t, "https://example.org/docs/bulletin-2021.pdf", pdfs[0].URL)
		assert.Equal(t, "https://other.example.org/report.PDF", pdfs[1].URL)
	})

	t.Run("Should fail on an invalid base URL", func(t *testing.T) {
		_, err := ParsePage("://bad", []byte(samplePage))
		assert.Error(t, err)
	})
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("https://example.org/a/b.pdf"))
	assert.True(t, IsPDF("https://example.org/a/b.PDF?download=1"))
	assert.False(t, IsPDF("https://example.org/a/b.pdf.html"))
	assert.False(t, IsPDF("https://example.org/pdf"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "bulletin_2020.pdf", FileName("https://example.org/bulletin%202020.pdf", "bsh", 1))
	assert.Equal(t, "bsh_4.pdf", FileName("https://example.org/document/view?id=4", "bsh", 4))
	assert.Equal(t, "doc_0.pdf", FileName("https://example.org/", "", 0))
}
