package mcpserver

// NoteFormatContract describes the entity note format so that LLM
// consumers can read notes, and edit their prose safely, without breaking
// the structured section.
const NoteFormatContract = `# Vaultkeeper Note Format Contract

Every entity has exactly one Markdown note. The file name is the slug of
the canonical name (ASCII-folded, lower-case, hyphenated) with a numeric
suffix on collision: ` + "`" + `michael.md` + "`" + `, ` + "`" + `michael-2.md` + "`" + `.

## Structure

` + "```" + `markdown
---
entity: Michael                     # REQUIRED – canonical name
aliases:                            # OPTIONAL – other names that resolve here
    - Mike
facts:                              # predicate -> list of values
    likes:
        - value: flowers
          id: 7c0e...               # stable fact id
          source: 1f2a...           # utterance that produced it
          recorded: 2026-10-19T10:00:00Z
          confidence: 0.9
          seen: 1
    sister:
        - value: Anna
          target: anna              # set when the value is another entity
          id: 9a1b...
backlinks:                          # facts on other notes that point here
    - entity: me
      fact: 9a1b...
---

Free-form prose. Never rewritten by the engine.
` + "```" + `

## Rules

1. **Write facts through the ` + "`" + `remember` + "`" + ` tool**, never by editing front matter.
   It resolves names, merges duplicates and keeps backlinks symmetric.
2. **Backlinks are derived.** Every fact with a ` + "`" + `target` + "`" + ` has exactly one
   matching backlink on the target note. Hand edits are undone by ` + "`" + `repair` + "`" + `.
3. **The body is yours.** Prose below the front matter is kept byte for byte.
   Use [[wikilinks]] to mention other entities. Front matter keys other than
   entity, aliases, facts and backlinks (tags, dates) are kept as well.
4. **Questions are grounded.** ` + "`" + `ask` + "`" + ` only answers from notes; an unknown
   entity yields "No information found." and creates nothing.
5. **Private text.** Anything inside <private>...</private> is redacted before
   extraction and never stored.
6. **Encoding** is UTF-8 with a trailing newline.
`
