package agentdeploy

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayContent_Raw(t *testing.T) {
	var out, errOut bytes.Buffer
	NewDisplay(&out, &errOut).Content("**Patagonia** in spring")

	assert.Equal(t, "📝 **Patagonia** in spring\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestDisplayContent_Markdown(t *testing.T) {
	t.Setenv("GLAMOUR_STYLE", "notty")
	var out, errOut bytes.Buffer
	NewDisplay(&out, &errOut).WithMarkdown().Content("# Ideas\n\nTry Patagonia in spring.")

	assert.Contains(t, out.String(), MarkerContent)
	assert.Contains(t, out.String(), "Try Patagonia in spring.")
	assert.Empty(t, errOut.String())
}

func TestDisplayContent_FallsBackWhenRenderingFails(t *testing.T) {
	var out, errOut bytes.Buffer
	d := NewDisplay(&out, &errOut)
	d.render = func(string) (string, error) { return "", errors.New("bad style") }

	d.Content("Try Patagonia.")

	assert.Equal(t, "📝 Try Patagonia.\n", out.String())
	assert.Contains(t, errOut.String(), "bad style")
}

func TestDisplayStepIsNeverRendered(t *testing.T) {
	var out bytes.Buffer
	NewDisplay(&out, &bytes.Buffer{}).WithMarkdown().Step(MarkerSuccess, "Agent **created**")

	assert.Equal(t, "✅ Agent **created**\n", out.String())
}
