// Copyright (C) 2025 GC Chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package conversation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pcraig3/gc-chat/services/chat/datatypes"
)

// citationPattern matches bracket-delimited citation tokens like
// "[Policy.pdf]". Non-greedy so chained brackets stay separate tokens.
var citationPattern = regexp.MustCompile(`\[(.*?)\]`)

// ExtractCited scans model output for bracketed document titles and returns
// them verbatim in order of appearance, duplicates included.
func ExtractCited(text string) []string {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	cited := make([]string, 0, len(matches))
	for _, m := range matches {
		cited = append(cited, m[1])
	}
	return cited
}

// FilterByTitles narrows allSources down to only the cited documents.
//
// For each cited title in order, the first source whose trimmed title
// matches case-insensitively is taken, skipping titles already present in
// the result. The output is deduplicated by title and ordered by first
// citation occurrence, not by source-list order. Titles with no matching
// source are omitted.
func FilterByTitles(allSources []datatypes.Source, citedTitles []string) []datatypes.Source {
	var filtered []datatypes.Source

	for _, title := range citedTitles {
		key := strings.ToLower(strings.TrimSpace(title))

		already := false
		for _, f := range filtered {
			if strings.ToLower(strings.TrimSpace(f.Title)) == key {
				already = true
				break
			}
		}
		if already {
			continue
		}

		for _, s := range allSources {
			if strings.ToLower(strings.TrimSpace(s.Title)) == key {
				filtered = append(filtered, s)
				break
			}
		}
	}

	return filtered
}

// Renumber rewrites title-based bracket citations into stable ordinal
// superscripts.
//
// Unique titles (trimmed, case-insensitive key) are numbered from 1 in order
// of first appearance in citedTitles. Every bracket token in the text whose
// captured title maps to a known key becomes "<sup>[n]</sup>"; tokens that
// match nothing are left untouched, tolerating malformed model citations.
// A cited title absent from the source list still consumes a number.
func Renumber(text string, citedTitles []string) string {
	if len(citedTitles) == 0 {
		return text
	}

	numbers := make(map[string]int, len(citedTitles))
	next := 1
	for _, title := range citedTitles {
		key := strings.ToLower(strings.TrimSpace(title))
		if _, ok := numbers[key]; !ok {
			numbers[key] = next
			next++
		}
	}

	return citationPattern.ReplaceAllStringFunc(text, func(token string) string {
		title := strings.TrimSpace(token[1 : len(token)-1])
		if n, ok := numbers[strings.ToLower(title)]; ok {
			return fmt.Sprintf("<sup>[%d]</sup>", n)
		}
		return token
	})
}
