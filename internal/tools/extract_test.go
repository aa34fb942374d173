package tools

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTextSelectorOrder(t *testing.T) {
	long := strings.Repeat("transcript sentence. ", 10)
	html := `<html><body>
		<nav>Home Courses About</nav>
		<div class="rc-Transcript">` + long + `</div>
		<main>short</main>
		<script>var tracking = true;</script>
	</body></html>`

	text, ok := extractText(html, []string{".rc-Transcript", "main"}, minPlausibleTextLen)
	assert.True(t, ok)
	assert.Contains(t, text, "transcript sentence.")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "Home Courses About")
}

func TestExtractTextFallsBackToBody(t *testing.T) {
	long := strings.Repeat("body copy outside any known container. ", 5)
	html := `<html><body><div class="unexpected">` + long + `</div></body></html>`

	text, ok := extractText(html, []string{".rc-Transcript"}, minPlausibleTextLen)
	assert.True(t, ok)
	assert.Contains(t, text, "body copy")
}

func TestExtractTextRejectsShortContent(t *testing.T) {
	_, ok := extractText(`<html><body><main>nope</main></body></html>`,
		[]string{"main"}, minPlausibleTextLen)
	assert.False(t, ok)
}

func TestCMLText(t *testing.T) {
	nested := json.RawMessage(`{"dtdId":"cml/1","value":"<co-content><p>First.</p><p>Second.</p></co-content>"}`)
	assert.Equal(t, "First.Second.", cmlText(nested))

	bare := json.RawMessage(`"<p>Bare value</p>"`)
	assert.Equal(t, "Bare value", cmlText(bare))

	assert.Empty(t, cmlText(nil))
	assert.Empty(t, cmlText(json.RawMessage(`{"other":1}`)))
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	in := "  a   line \n\n\n   another\t\tline  \n"
	assert.Equal(t, "a line\nanother line", cleanText(in))
}
