// templates.go implements the layered prompt template catalog: keyed by
// (category, prompt_type, locale, content_style) with
// {transcript}/{quality_notice} substitution and a most-specific-wins
// fallback chain, the same "fall back one axis at a time" shape package
// quota uses for global-vs-per-user entries, applied here to prompt
// selection instead of quota windows.
package summary

import "strings"

// Category distinguishes the two template families: ordinary text
// summaries and diagram-source visualizations.
type Category string

const (
	CategorySummary       Category = "summary"
	CategoryVisualization Category = "visualization"
)

// templateKey is the four-axis lookup key.
type templateKey struct {
	Category     Category
	PromptType   string
	Locale       string
	ContentStyle string
}

// TemplateCatalog resolves a prompt body for (category, prompt_type,
// locale, content_style), falling back first to the "general" content
// style, then to the "en" locale, in that order, before failing.
type TemplateCatalog struct {
	templates map[templateKey]string
}

// NewTemplateCatalog builds the catalog with the built-in template set;
// callers may Register additional (category, type, locale, style)
// combinations without needing to fork the defaults.
func NewTemplateCatalog() *TemplateCatalog {
	c := &TemplateCatalog{templates: make(map[templateKey]string)}
	c.registerDefaults()
	return c
}

// Register adds or overrides one template body.
func (c *TemplateCatalog) Register(category Category, promptType, locale, contentStyle, body string) {
	c.templates[templateKey{category, promptType, locale, contentStyle}] = body
}

// Render looks up the most specific template for the given axes and
// substitutes {transcript} and {quality_notice}.
func (c *TemplateCatalog) Render(category Category, promptType, locale, contentStyle, transcript, qualityNotice string) string {
	body := c.lookup(category, promptType, locale, contentStyle)
	body = strings.ReplaceAll(body, "{transcript}", transcript)
	body = strings.ReplaceAll(body, "{quality_notice}", qualityNotice)
	return body
}

func (c *TemplateCatalog) lookup(category Category, promptType, locale, contentStyle string) string {
	if locale == "" {
		locale = "en"
	}
	if contentStyle == "" {
		contentStyle = "general"
	}
	candidates := []templateKey{
		{category, promptType, locale, contentStyle},
		{category, promptType, locale, "general"},
		{category, promptType, "en", contentStyle},
		{category, promptType, "en", "general"},
	}
	for _, k := range candidates {
		if body, ok := c.templates[k]; ok {
			return body
		}
	}
	return defaultFallback(category, promptType)
}

func defaultFallback(category Category, promptType string) string {
	if category == CategoryVisualization {
		return "{quality_notice}Produce a Mermaid " + promptType + " diagram summarizing the following transcript:\n\n{transcript}"
	}
	return "{quality_notice}Summarize the following transcript as " + promptType + ":\n\n{transcript}"
}

// registerDefaults seeds the built-in en/zh templates under the "meeting"
// and "general" content styles; other content styles (learning,
// interview, lecture, podcast, video) fall back to "general" via the
// lookup chain above, so no bespoke template per style is required.
func (c *TemplateCatalog) registerDefaults() {
	c.Register(CategorySummary, "overview", "en", "general",
		"{quality_notice}Write a concise overview (3-5 sentences) of the following transcript:\n\n{transcript}")
	c.Register(CategorySummary, "overview", "en", "meeting",
		"{quality_notice}Write a concise meeting overview covering purpose, attendees' roles, and outcome:\n\n{transcript}")
	c.Register(CategorySummary, "overview", "zh", "general",
		"{quality_notice}请用3-5句话概括以下文字记录：\n\n{transcript}")

	c.Register(CategorySummary, "key_points", "en", "general",
		"{quality_notice}Extract the key points from the following transcript as a bulleted list:\n\n{transcript}")
	c.Register(CategorySummary, "key_points", "en", "meeting",
		"{quality_notice}Extract the key discussion points and decisions from this meeting transcript as a bulleted list:\n\n{transcript}")
	c.Register(CategorySummary, "key_points", "zh", "general",
		"{quality_notice}请以要点列表的形式提取以下文字记录中的关键点：\n\n{transcript}")

	c.Register(CategorySummary, "action_items", "en", "general",
		"{quality_notice}List any action items implied by the following transcript, with an owner if mentioned:\n\n{transcript}")
	c.Register(CategorySummary, "action_items", "en", "meeting",
		"{quality_notice}List concrete action items from this meeting transcript, each with an owner and due date if mentioned:\n\n{transcript}")
	c.Register(CategorySummary, "action_items", "zh", "general",
		"{quality_notice}请列出以下文字记录中隐含的行动项，如有提及请注明负责人：\n\n{transcript}")

	c.Register(CategorySummary, "chapters", "en", "general",
		"{quality_notice}Segment the following transcript into chapters. Respond with ONLY a JSON document of the form "+
			`{"total_chapters": <int>, "chapters": [{"index": <int>, "title": <string>, "start_offset": <seconds>, "end_offset": <seconds>, "summary": <string>}]}`+
			":\n\n{transcript}")

	c.Register(CategoryVisualization, "visual_mindmap", "en", "general",
		"{quality_notice}Produce ONLY Mermaid mindmap syntax (starting with 'mindmap') summarizing the following transcript:\n\n{transcript}")
	c.Register(CategoryVisualization, "visual_timeline", "en", "general",
		"{quality_notice}Produce ONLY Mermaid timeline syntax (starting with 'timeline') of the events in the following transcript:\n\n{transcript}")
	c.Register(CategoryVisualization, "visual_flowchart", "en", "general",
		"{quality_notice}Produce ONLY Mermaid flowchart syntax (starting with 'flowchart' or 'graph') of the process described in the following transcript:\n\n{transcript}")
}

// QualityCaveat is injected as {quality_notice} when the transcript's
// quality classification is low.
const QualityCaveat = "Note: this transcript was produced from low-confidence speech recognition and may contain errors. Treat ambiguous phrases cautiously. "
