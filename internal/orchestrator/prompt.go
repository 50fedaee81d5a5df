package orchestrator

import (
	"fmt"
	"strings"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

const systemPrompt = `You are a professional content writer. You write detailed,
well-structured articles in Markdown. You always ground your writing in the
provided sources and you always embed every provided image and video.`

// buildPrompt composes the user prompt for a topic plus its gathered
// research. Every media URL handed to the model here is later required
// to appear verbatim in the generated content.
func buildPrompt(topic string, results pipeline.SearchResults) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a comprehensive article titled %q.\n\n", topic)

	b.WriteString("Requirements:\n")
	b.WriteString("- Format the article in Markdown with clear section headings.\n")
	b.WriteString("- Base the article on the reference material below.\n")
	b.WriteString("- Write for a general technical audience.\n")

	if len(results.Images) > 0 {
		b.WriteString("- Embed every image listed below using Markdown image syntax, e.g. ![description](url).\n")
	}
	if len(results.Videos) > 0 {
		b.WriteString("- Link every video listed below using Markdown link syntax, e.g. [title](url).\n")
	}

	if len(results.Web) > 0 {
		b.WriteString("\nReference material:\n")
		for _, s := range results.Web {
			fmt.Fprintf(&b, "- %s (%s)", s.Title, s.URL)
			if s.Summary != "" {
				fmt.Fprintf(&b, ": %s", s.Summary)
			}
			b.WriteString("\n")
		}
	}

	if len(results.Images) > 0 {
		b.WriteString("\nImages to embed:\n")
		for _, s := range results.Images {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.URL)
		}
	}

	if len(results.Videos) > 0 {
		b.WriteString("\nVideos to link:\n")
		for _, s := range results.Videos {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.URL)
		}
	}

	return b.String()
}
