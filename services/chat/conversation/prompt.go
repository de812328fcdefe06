// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// PromptAssembler builds the model-facing prompt text from the user query
// and a consolidated document set. The result becomes the content of a
// hidden user turn: it goes to the model but is never displayed.
type PromptAssembler struct {
	persona string
}

// NewPromptAssembler creates an assembler with the given persona line. The
// persona is the product-specific part of the system preamble; the current
// year is appended at build time.
func NewPromptAssembler(persona string) *PromptAssembler {
	return &PromptAssembler{persona: persona}
}

// SystemPrompt returns the fixed system preamble: persona plus current year.
func (p *PromptAssembler) SystemPrompt() string {
	return fmt.Sprintf("%s It is %d right now. Respond to users in their preferred language.",
		p.persona, time.Now().Year())
}

// Build assembles the enhanced prompt for one exchange.
//
// With documents, the prompt carries the citation contract (exactly one
// exact document title per bracket token, chained brackets for multi-source
// sentences, never numeric citations), answer length guidance, the
// don't-fabricate instruction, and a <context> block rendering each document
// 1-indexed in docs order. Without documents only the system preamble is
// emitted; this is the fallback when retrieval is unavailable.
//
// Both branches close with a language-detection instruction and the literal
// user question wrapped in a <question> tag.
func (p *PromptAssembler) Build(userQuery string, docs []datatypes.Source) string {
	var b strings.Builder

	if len(docs) > 0 {
		blocks := make([]string, len(docs))
		for i, d := range docs {
			blocks[i] = fmt.Sprintf("DOCUMENT %d\nTITLE: %s\nCONTENT: %s", i+1, d.Title, d.Chunk)
		}
		context := strings.Join(blocks, "\n\n---\n\n")

		b.WriteString(p.SystemPrompt() + "\n")
		b.WriteString("You are helping people answer questions based on the context below, denoted by the <context> tag. Past questions and answers in this conversation may also provide required context.\n")
		b.WriteString("Always cite sources at the end of each relevant sentence using this exact format: [Exact Document Title.ext]. If multiple sources support a sentence, list each in its own bracket token separated by a comma and space (eg, [Doc A.pdf], [Doc B.docx]). Even if you mention a document title in a sentence, still append a bracketed citation at the end of that sentence (eg, These steps are summarized in **Document.docx** [Document.docx].).\n")
		b.WriteString("IMPORTANT: Put exactly one document title per bracket. Do not combine multiple titles in a single bracket. Do not prefix with 'Source:' or 'Sources:'. If multiple sources apply to a sentence, chain separate brackets back-to-back like [Title A.docx] [Title-B.pdf]. Never use numeric citations like [1]. Always use the EXACT source document title.\n")
		b.WriteString("Answer in 2-3 sentences unless otherwise instructed.\n")
		b.WriteString("VERY IMPORTANT: If you don't know the answer, just say \"I don't know.\", don't try to make up an answer.\n")
		b.WriteString("\n")
		b.WriteString("<context>\n")
		b.WriteString(context + "\n")
		b.WriteString("</context>\n")
	} else {
		b.WriteString(p.SystemPrompt() + "\n")
	}

	b.WriteString("\n")
	b.WriteString("CRITICAL: Detect the language of the user's question below. If there is no explict direction on which language to use, you should respond in THE EXACT SAME LANGUAGE. If the question tells you which language to respond in, use that language.\n")
	b.WriteString("<question>\n")
	b.WriteString(userQuery + "\n")
	b.WriteString("</question>\n")

	return b.String()
}
