package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

func TestDocumentExtractsHeadingAndBody(t *testing.T) {
	t.Parallel()

	page := "<html><head><title>ignored</title></head>\n<body>\n\t<h1 id=\"firstHeading\">  Luke Skywalker \n</h1>\r\n<p>Jedi</p>\n</body></html>"
	title, content, err := Document([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Luke Skywalker", title)
	assert.Equal(t, `<body><h1 id="firstHeading">  Luke Skywalker </h1><p>Jedi</p></body>`, content)
	assert.NotContains(t, content, "\n")
	assert.NotContains(t, content, "\t")
	assert.NotContains(t, content, "\r")
}

func TestDocumentWithoutHeadingUsesDefaultTitle(t *testing.T) {
	t.Parallel()

	title, content, err := Document([]byte(`<html><body><p>plain</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, crawler.NoTitle, title)
	assert.Equal(t, `<body><p>plain</p></body>`, content)
}

func TestDocumentHeadingOutsideBodyIsIgnored(t *testing.T) {
	t.Parallel()

	title, _, err := Document([]byte(`<html><head><title id="firstHeading">Head</title></head><body></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, crawler.NoTitle, title)
}
