package ollama

func buildSummaryPrompt(text string) string {
	return `Summarize the document below in 3 to 5 sentences.
Plain prose, no headings, no bullet points.

Document:
` + text
}

func buildMarkdownPrompt(text string) string {
	return `Convert the document below into clean Markdown.
Preserve structure (headings, lists, tables) where evident.
Return only the Markdown, no commentary.

Document:
` + text
}

func buildTagsPrompt(text string) string {
	return `You are a document tagger.
Return strict JSON object with one key: tags (array of 3 to 8 short lowercase strings).
No markdown, no extra keys.

Document:
` + text
}

func buildCategoryPrompt(text string) string {
	return `You are a document classifier.
Return strict JSON object with one key: category (a single short string such as invoice, contract, report, correspondence, other).
No markdown, no extra keys.

Document:
` + text
}

func buildFieldsPrompt(text string) string {
	return `Extract key fields from the document below (dates, amounts, parties, identifiers).
Return strict JSON object mapping snake_case field names to string values.
Only include fields actually present. No markdown, no extra keys.

Document:
` + text
}
