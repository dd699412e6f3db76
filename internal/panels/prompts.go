package panels

import (
	"bytes"
	"text/template"
)

var keywordPrompt = template.Must(template.New("keywords").Parse(
	`You are a YouTube SEO strategist.
List 15 search keywords and long-tail phrases a creator should target for a video about: {{.Topic}}
Group them into primary, secondary and long-tail. For each keyword add a one-line note on search intent.
Finish with one suggested title and a 2-sentence description using the strongest keywords.`))

var ideaPrompt = template.Must(template.New("ideas").Parse(
	`You are a YouTube growth strategist.
Generate {{.Count}} high click-through-rate video ideas for a channel in this niche: {{.Niche}}
For each idea give a title under 60 characters and a thumbnail concept (main visual, text overlay, emotion).
Number the ideas.`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
