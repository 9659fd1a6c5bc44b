package xmlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUTF8_StripsBOM(t *testing.T) {
	input := append([]byte("\xef\xbb\xbf"), []byte("<root/>")...)
	out, err := NormalizeUTF8(input)
	require.NoError(t, err)
	assert.Equal(t, "<root/>", string(out))
}

func TestNormalizeUTF8_PassesThroughValidUTF8(t *testing.T) {
	input := []byte(`<friendlyName>Café Server</friendlyName>`)
	out, err := NormalizeUTF8(input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}
