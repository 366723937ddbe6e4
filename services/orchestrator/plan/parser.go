// Copyright (C) 2025 Forgeworks (oss@forgeworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Line Classifiers
// =============================================================================

var (
	// "1. Step description", "2) Step description"
	reStepNumbered = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)

	// "- Step description", "* Step description", "+ Step description"
	reStepBullet = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)

	// "Étape 1: description", "Etape 2 - description"
	reStepEtape = regexp.MustCompile(`(?i)^\s*[ée]tape\s*(\d+)\s*[:.-]\s*(.*)$`)

	// Bare "3 do something" without list punctuation.
	reNumericLead = regexp.MustCompile(`^\d+\s+`)

	// Bullet glued to the text, e.g. "-do something".
	reBulletGlued = regexp.MustCompile(`^\s*[-*]\s*`)
)

var reDependency = []*regexp.Regexp{
	regexp.MustCompile(`(?i)depends?\s+on\s*[:\-]?\s*step\s*(\d+)`),
	regexp.MustCompile(`(?i)after\s*step\s*(\d+)`),
	regexp.MustCompile(`(?i)requires?\s*step\s*(\d+)`),
}

var reDuration = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:duration|durée|time)\s*[:=]\s*(\d+(?:\.\d+)?)\s*(minutes?|hours?|heures?)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(minutes?|hours?|heures?)`),
}

var rePriority = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpriority\s*[:=]\s*(high|medium|low|\d+)`),
	regexp.MustCompile(`(?i)\bpriorité\s*[:=]\s*(haute|moyenne|basse|\d+)`),
}

var (
	reFilesLabel   = regexp.MustCompile(`(?i)^(files|fichiers?)\s*:`)
	reCommandLabel = regexp.MustCompile(`(?i)^(command|run|then run)\s*:`)
	reFileToken    = regexp.MustCompile(`^[A-Za-z0-9_./-]+\.[A-Za-z0-9]+`)
	reTokenSplit   = regexp.MustCompile(`[\s,]+`)
)

// =============================================================================
// Parser
// =============================================================================

// Parser converts high-level plan text into a list of Steps.
//
// The parser is resilient to the plan formats language models actually
// produce: markdown headings, numbered lists, bullet lists, annotated
// steps with metadata blocks, and French/English labels. When no
// structured plan can be identified it falls back to wrapping the whole
// text in a single Step.
type Parser struct{}

// NewParser creates a plan parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse converts plan text into an ordered list of Steps.
//
// # Description
//
// Steps are detected line by line. A line starts a step when it matches
// a numbered-list, bullet-list, or "Étape N" pattern, or leads with a
// bare number followed by text. Lines between one step start and the
// next form the step's metadata block; commands, file references,
// durations, priorities, and dependencies are extracted from the step's
// own line plus that block.
//
// Step IDs are assigned sequentially from 1 in parse order. Numerals in
// the source text are ignored: models renumber plans inconsistently and
// downstream consumers need a stable contiguous sequence.
//
// # Outputs
//
//   - []Step: Never empty on success.
//   - error: ErrEmptyPlan for blank input, ErrNoSteps if nothing usable
//     was found even after the unstructured fallback.
func (p *Parser) Parse(text string) ([]Step, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPlan
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")

	var steps []Step
	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], " \t\r")
		trimmed := strings.TrimSpace(line)

		// Headings and blank lines never start a step.
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			i++
			continue
		}

		description, ok := stepDescription(line, trimmed)
		if !ok {
			i++
			continue
		}

		// Collect the metadata block: everything until the next step
		// start or heading.
		j := i + 1
		var metadata []string
		for j < len(lines) {
			next := lines[j]
			nextTrimmed := strings.TrimSpace(next)
			if nextTrimmed != "" && (isStepStart(next) || strings.HasPrefix(nextTrimmed, "#")) {
				break
			}
			metadata = append(metadata, strings.TrimRight(next, "\r\n"))
			j++
		}

		step := Step{
			ID:          len(steps) + 1,
			Description: strings.TrimSpace(description),
			Action:      detectAction(description),
		}
		parseMetadata(&step, append([]string{description}, metadata...))

		steps = append(steps, step)
		i = j
	}

	// Unstructured fallback: wrap the whole text in a single step and
	// run the same metadata extraction over it.
	if len(steps) == 0 {
		step := Step{
			ID:          1,
			Description: strings.TrimSpace(text),
			Action:      detectAction(text),
		}
		parseMetadata(&step, lines)
		steps = append(steps, step)
	}

	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	return steps, nil
}

// stepDescription extracts the description when the line starts a step.
func stepDescription(line, trimmed string) (string, bool) {
	if m := reStepNumbered.FindStringSubmatch(line); m != nil {
		return m[2], true
	}
	if m := reStepEtape.FindStringSubmatch(line); m != nil {
		return m[2], true
	}
	if m := reStepBullet.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	// "1 Create the model" without list punctuation. A line of digits
	// with nothing after them is not a step start.
	if reNumericLead.MatchString(trimmed) {
		parts := strings.SplitN(trimmed, " ", 2)
		if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
			return parts[1], true
		}
		return "", false
	}
	if reBulletGlued.MatchString(trimmed) {
		return strings.TrimLeft(trimmed, "-* "), true
	}
	return "", false
}

// isStepStart reports whether the line begins a new step.
func isStepStart(line string) bool {
	stripped := strings.TrimSpace(line)
	if stripped == "" || strings.HasPrefix(stripped, "#") {
		return false
	}
	if reStepNumbered.MatchString(stripped) ||
		reStepEtape.MatchString(stripped) ||
		reStepBullet.MatchString(stripped) {
		return true
	}
	if reNumericLead.MatchString(stripped) {
		return true
	}
	return false
}

// =============================================================================
// Metadata Extraction
// =============================================================================

// parseMetadata scans the step's own line plus its metadata block and
// fills in commands, files, duration, priority, and dependencies.
// Fenced code blocks are consumed as commands and excluded from the
// remaining classifiers.
func parseMetadata(step *Step, lines []string) {
	for idx := 0; idx < len(lines); idx++ {
		line := strings.TrimSpace(lines[idx])
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "```") {
			k := idx + 1
			for k < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[k]), "```") {
				if cmd := strings.TrimSpace(lines[k]); cmd != "" {
					step.Commands = append(step.Commands, cmd)
				}
				k++
			}
			idx = k
			continue
		}

		if reFilesLabel.MatchString(line) {
			if _, rest, found := strings.Cut(line, ":"); found {
				step.FilesInvolved = append(step.FilesInvolved, extractFiles(rest)...)
			}
			continue
		}

		if reCommandLabel.MatchString(line) {
			if _, rest, found := strings.Cut(line, ":"); found {
				cmd := strings.Trim(strings.TrimSpace(rest), "`")
				if cmd != "" {
					step.Commands = append(step.Commands, cmd)
				}
			}
			continue
		}

		for _, re := range reDuration {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			value, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				break
			}
			unit := strings.ToLower(m[2])
			if strings.HasPrefix(unit, "hour") || strings.HasPrefix(unit, "heure") {
				step.EstimatedDuration = int(value * 60)
			} else {
				step.EstimatedDuration = int(value)
			}
			break
		}

		for _, re := range rePriority {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			step.Priority = mapPriority(m[1])
			break
		}

		for _, re := range reDependency {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if dep, err := strconv.Atoi(m[1]); err == nil {
				step.Dependencies = append(step.Dependencies, dep)
			}
			break
		}

		step.FilesInvolved = append(step.FilesInvolved, extractFiles(line)...)
	}

	step.FilesInvolved = dedupe(step.FilesInvolved)
}

// mapPriority maps textual priorities to 1 (high), 2 (medium), 3 (low).
func mapPriority(val string) int {
	switch strings.ToLower(val) {
	case "high", "haute", "1":
		return 1
	case "medium", "moyenne", "2":
		return 2
	case "low", "basse", "3":
		return 3
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return 0
}

// extractFiles returns file-path-like tokens mentioned in the text. A
// token qualifies when it contains a slash or dot and, after trailing
// punctuation is trimmed, looks like a filename with an extension.
func extractFiles(text string) []string {
	if text == "" {
		return nil
	}
	var files []string
	for _, token := range reTokenSplit.Split(text, -1) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if !strings.ContainsAny(token, "/.") {
			continue
		}
		clean := strings.Trim(token, "`.,;:()[]{}<>")
		if reFileToken.MatchString(clean) {
			files = append(files, clean)
		}
	}
	return files
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// =============================================================================
// Action Classification
// =============================================================================

// Keyword tables for action inference over the step description. The
// first matching rule wins; rules are checked in this fixed order:
// create, modify, delete, test, install, configure, debug, refactor.
var (
	createVerbs    = []string{"create", "créer", "creer", "generate", "make"}
	createTargets  = []string{"model", "controller", "service", ".php", ".js", ".py", "file", "fichier"}
	modifyWords    = []string{"modify", "update", "edit", "changer", "change", "adjust", "amend", "add", "ajouter"}
	deleteWords    = []string{"delete", "remove", "supprimer", "drop"}
	testWords      = []string{"test", "pest", "phpunit", "pytest"}
	installWords   = []string{"install", "require", "composer", "npm", "pip", "package"}
	configureWords = []string{"configure", "setup", "set up", "config"}
	debugWords     = []string{"debug", "fix", "résoudre", "resoudre", "resolve", "bug"}
	refactorWords  = []string{"refactor", "clean up", "optimiser", "simplify"}
)

// detectAction infers the action type from a step description using
// substring keyword matching. Creation requires both a create verb and a
// file-ish target word; a create verb alone falls through to the later
// rules.
func detectAction(description string) ActionType {
	if description == "" {
		return ActionOther
	}
	desc := strings.ToLower(description)

	if containsAny(desc, createVerbs) && containsAny(desc, createTargets) {
		return ActionCreateFile
	}
	if containsAny(desc, modifyWords) {
		return ActionModifyFile
	}
	if containsAny(desc, deleteWords) {
		return ActionDeleteFile
	}
	if containsAny(desc, testWords) {
		return ActionRunTests
	}
	if containsAny(desc, installWords) {
		return ActionInstallPackage
	}
	if containsAny(desc, configureWords) {
		return ActionConfigure
	}
	if containsAny(desc, debugWords) {
		return ActionDebug
	}
	if containsAny(desc, refactorWords) {
		return ActionRefactor
	}
	return ActionOther
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Describe returns a one-line summary of a parsed plan, used in logs.
func Describe(steps []Step) string {
	actions := make([]string, 0, len(steps))
	for _, s := range steps {
		actions = append(actions, s.Action.String())
	}
	return fmt.Sprintf("%d steps (%s)", len(steps), strings.Join(actions, ", "))
}
