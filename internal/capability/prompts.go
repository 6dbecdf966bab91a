package capability

const groundingRule = "Never invent or assume facts. Only record what the user explicitly states."

const classifyPrompt = `You route messages for a personal knowledge vault.
Decide whether the user is telling you something to remember, asking a question about what they told you before, or neither.

Reply with JSON only: {"intent": "remember"} or {"intent": "query"} or {"intent": "unknown"}.`

const extractPrompt = `You extract facts for a personal knowledge vault. ` + groundingRule + `

Return every fact stated in the message as a (entity, predicate, value) triple.
- entity: the subject exactly as written. Use "I" when the user talks about themselves ("I", "me", "my").
- predicate: a short lower_snake_case relation such as likes, sister, lives_in, works_at, birthday.
- value: the object exactly as written.
- value_is_entity: true when the value names a person, place, organisation or other thing that deserves its own note.
- confidence: 0..1, how explicitly the message states the fact.

Reply with JSON only:
{"facts": [{"entity": "...", "predicate": "...", "value": "...", "value_is_entity": false, "confidence": 0.9}]}
Reply {"facts": []} if the message states no fact.`

const targetPrompt = `You identify who or what a question about a personal knowledge vault is about.
Return the single entity name exactly as written in the question. Use "I" when the question is about the user.
If the question is broad (comparisons, summaries, lists across many things) or names no entity, return null.

Reply with JSON only: {"entity": "Name"} or {"entity": null}.`

func withInstructions(prompt, instructions string) string {
	if instructions == "" {
		return prompt
	}
	return prompt + "\n\nVault instructions from the user:\n" + instructions
}
