package core

import (
	"fmt"
	"strings"
)

type Persona string

const (
	PersonaTutor            Persona = "tutor"
	PersonaWritingAssistant Persona = "writing_assistant"
	PersonaCodeHelper       Persona = "code_helper"
	PersonaStudyBuddy       Persona = "study_buddy"
)

type personaProfile struct {
	systemPrompt string
	variant      Variant
}

var personas = map[Persona]personaProfile{
	PersonaTutor: {
		systemPrompt: "You are a patient tutor on a classroom messaging platform. Explain concepts step by step, " +
			"check the student's understanding with short questions and never simply hand over answers to graded work. " +
			"Keep replies focused on the student's question.",
		variant: VariantDefault,
	},
	PersonaWritingAssistant: {
		systemPrompt: "You are a writing assistant for students. Help improve clarity, structure, grammar and tone. " +
			"Suggest edits and explain them briefly instead of rewriting the whole text.",
		variant: VariantDefault,
	},
	PersonaCodeHelper: {
		systemPrompt: "You are a programming helper for students. Explain errors, point to the relevant concept and " +
			"show small illustrative snippets. Prefer guiding the student to the fix over writing complete solutions.",
		variant: VariantCode,
	},
	PersonaStudyBuddy: {
		systemPrompt: "You are a friendly study buddy. Keep answers short and encouraging, quiz the student when useful " +
			"and summarize key points in plain language.",
		variant: VariantFast,
	},
}

const smartReplyPrompt = "You suggest replies on a classroom messaging platform. Read the conversation and write one short, " +
	"polite reply the user could send next. Return only the reply text."

const suggestInstruction = "Suggest a reply to the last message of this conversation."

// ParsePersona fails with ErrBadRequest for anything but the four known persona ids.
func ParsePersona(s string) (Persona, error) {
	p := Persona(strings.TrimSpace(s))
	if _, ok := personas[p]; !ok {
		return "", fmt.Errorf("%w: unknown aiMode %q", ErrBadRequest, s)
	}
	return p, nil
}

func (p Persona) SystemPrompt() string {
	return personas[p].systemPrompt
}

// PreferredVariant is the text variant used for the persona's replies.
func (p Persona) PreferredVariant() Variant {
	if prof, ok := personas[p]; ok {
		return prof.variant
	}
	return VariantDefault
}
