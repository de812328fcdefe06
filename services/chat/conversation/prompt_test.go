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
	"testing"
	"time"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

func TestSystemPrompt(t *testing.T) {
	p := NewPromptAssembler("You are a testing assistant.")
	got := p.SystemPrompt()

	if !strings.HasPrefix(got, "You are a testing assistant. ") {
		t.Errorf("persona missing from preamble: %q", got)
	}
	if !strings.Contains(got, fmt.Sprintf("It is %d right now.", time.Now().Year())) {
		t.Errorf("current year missing: %q", got)
	}
	if !strings.Contains(got, "Respond to users in their preferred language.") {
		t.Errorf("language instruction missing: %q", got)
	}
}

func TestBuildWithDocuments(t *testing.T) {
	p := NewPromptAssembler("Persona.")
	docs := []datatypes.Source{
		{Title: "Policy.pdf", Chunk: "Remote work is permitted."},
		{Title: "Guide.docx", Chunk: "Submit form X."},
	}

	prompt := p.Build("Can I work remotely?", docs)

	t.Run("carries the citation contract", func(t *testing.T) {
		for _, want := range []string{
			"[Exact Document Title.ext]",
			"exactly one document title per bracket",
			"Never use numeric citations like [1].",
			"Answer in 2-3 sentences unless otherwise instructed.",
			"If you don't know the answer, just say \"I don't know.\"",
		} {
			if !strings.Contains(prompt, want) {
				t.Errorf("prompt missing %q", want)
			}
		}
	})

	t.Run("renders documents 1-indexed in order", func(t *testing.T) {
		first := "DOCUMENT 1\nTITLE: Policy.pdf\nCONTENT: Remote work is permitted."
		second := "DOCUMENT 2\nTITLE: Guide.docx\nCONTENT: Submit form X."
		if !strings.Contains(prompt, first+"\n\n---\n\n"+second) {
			t.Errorf("context block malformed:\n%s", prompt)
		}
		if !strings.Contains(prompt, "<context>\n") || !strings.Contains(prompt, "</context>") {
			t.Error("context tags missing")
		}
	})

	t.Run("wraps the literal question", func(t *testing.T) {
		if !strings.Contains(prompt, "<question>\nCan I work remotely?\n</question>") {
			t.Errorf("question block malformed:\n%s", prompt)
		}
	})

	t.Run("ends with the question block", func(t *testing.T) {
		if !strings.HasSuffix(prompt, "</question>\n") {
			t.Errorf("unexpected suffix: %q", prompt[len(prompt)-40:])
		}
	})
}

func TestBuildWithoutDocuments(t *testing.T) {
	p := NewPromptAssembler("Persona.")
	prompt := p.Build("Bonjour?", nil)

	if strings.Contains(prompt, "<context>") {
		t.Error("preamble-only prompt must not carry a context block")
	}
	if strings.Contains(prompt, "cite sources") {
		t.Error("preamble-only prompt must not carry the citation contract")
	}
	if !strings.Contains(prompt, p.SystemPrompt()) {
		t.Error("system preamble missing")
	}
	if !strings.Contains(prompt, "CRITICAL: Detect the language of the user's question below.") {
		t.Error("language detection instruction missing")
	}
	if !strings.Contains(prompt, "<question>\nBonjour?\n</question>") {
		t.Error("question block missing")
	}
}
