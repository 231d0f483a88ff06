// File: internal/browser/driver_test.go
package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelSelector(t *testing.T) {
	testCases := []struct {
		label    string
		expected string
	}{
		{"Sign In", "//span[text()='Sign In']"},
		{"Save to Library", "//span[text()='Save to Library']"},
		{"Reader's Alert", `//span[text()="Reader's Alert"]`},
		{`It's "new"`, `//span[text()=concat('It', "'", 's "new"')]`},
	}
	for _, tc := range testCases {
		t.Run(tc.label, func(t *testing.T) {
			sel := LabelSelector(tc.label)
			assert.Equal(t, ByXPath, sel.Kind)
			assert.Equal(t, tc.expected, sel.Query)
		})
	}
}

func TestLabelSelectorsKeepsOrder(t *testing.T) {
	sels := LabelSelectors([]string{"Activate Alert", "Create Alert"})
	require.Len(t, sels, 2)
	assert.Equal(t, "//span[text()='Activate Alert']", sels[0].Query)
	assert.Equal(t, "//span[text()='Create Alert']", sels[1].Query)
}

func TestSelectorString(t *testing.T) {
	assert.Equal(t, "css:.result-page", CSS(".result-page").String())
	assert.Equal(t, "xpath://h1", XPath("//h1").String())
}

func TestElementScript(t *testing.T) {
	t.Run("css lookup", func(t *testing.T) {
		script, err := elementScript(CSS(`h1[data-test-id="x"]`), "el.click(); return true;")
		require.NoError(t, err)
		assert.Contains(t, script, `document.querySelector("h1[data-test-id=\"x\"]")`)
		assert.Contains(t, script, "el.click(); return true;")
		assert.True(t, strings.HasPrefix(script, "(() => {"))
	})

	t.Run("xpath lookup", func(t *testing.T) {
		script, err := elementScript(LabelSelector("Save to Library"), "return true;")
		require.NoError(t, err)
		assert.Contains(t, script, `document.evaluate("//span[text()='Save to Library']"`)
		assert.Contains(t, script, "FIRST_ORDERED_NODE_TYPE")
	})
}
