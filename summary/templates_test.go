package summary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateCatalog_ExactMatch(t *testing.T) {
	c := NewTemplateCatalog()
	body := c.Render(CategorySummary, "overview", "zh", "general", "TRANSCRIPT", "")
	require.Contains(t, body, "TRANSCRIPT")
	require.Contains(t, body, "概括")
}

func TestTemplateCatalog_FallsBackToGeneralStyle(t *testing.T) {
	c := NewTemplateCatalog()
	body := c.Render(CategorySummary, "overview", "en", "podcast", "TRANSCRIPT", "")
	require.Contains(t, body, "Write a concise overview")
}

func TestTemplateCatalog_FallsBackToEnglishLocale(t *testing.T) {
	c := NewTemplateCatalog()
	body := c.Render(CategorySummary, "key_points", "fr", "meeting", "TRANSCRIPT", "")
	require.Contains(t, body, "key discussion points and decisions")
}

func TestTemplateCatalog_UnregisteredPromptTypeUsesDefaultFallback(t *testing.T) {
	c := NewTemplateCatalog()
	body := c.Render(CategorySummary, "custom_digest", "en", "general", "TRANSCRIPT", "")
	require.Contains(t, body, "Summarize the following transcript as custom_digest")
}

func TestTemplateCatalog_QualityNoticeSubstitution(t *testing.T) {
	c := NewTemplateCatalog()
	body := c.Render(CategorySummary, "overview", "en", "general", "TRANSCRIPT", QualityCaveat)
	require.Contains(t, body, QualityCaveat)
}

func TestTemplateCatalog_RegisterOverride(t *testing.T) {
	c := NewTemplateCatalog()
	c.Register(CategorySummary, "overview", "en", "general", "custom body {transcript}")
	body := c.Render(CategorySummary, "overview", "en", "general", "X", "")
	require.Equal(t, "custom body X", body)
}
