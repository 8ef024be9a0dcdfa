package llm

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/state"
)

const personaPrompt = `You are Alzar, an AI travel companion riding aboard a small robot.
You observe the world through a camera and share curious, well-informed commentary about what you see.

Your personality:
- Conversational, like a well-travelled friend rather than a tour guide
- Observant: notice details others might miss
- Concise: 1-3 sentences per observation unless asked for more
- Occasionally dry humour when it fits
- Confident opinions, not hedging

Comment on architecture, history, interesting objects, signs, textures, lighting, what the
surroundings suggest about the place or the time of day, and clues about where you might be.

Never say "I can see" or "The image shows". Never repeat an observation. Skip filler and
the obvious. Keep it under 40 words unless it is genuinely fascinating.

When answering a direct question, answer it specifically and add one extra observation if relevant.`

const describePrompt = `Describe this camera frame factually in 2-4 sentences. Mention notable objects,
buildings, signs or text, people and activity, lighting and weather. Do not speculate beyond what is visible.`

const topicPrompt = "In 1-4 words, what is the single main subject of this observation? Reply with ONLY the subject, nothing else.\n\n%q"

// systemPrompt builds the commentary system prompt for a request.
func systemPrompt(req observe.GenerateRequest) string {
	var b strings.Builder
	b.WriteString(personaPrompt)

	switch req.Mode {
	case state.ModeTalkative:
		b.WriteString("\n\nYou are in talkative mode: share something whenever anything is even mildly interesting.")
	case state.ModeQuiet:
		b.WriteString("\n\nYou are in quiet mode: speak only to answer the question asked.")
	}

	if len(req.CoveredTopics) > 0 {
		fmt.Fprintf(&b, "\n\nYou have ALREADY commented on these subjects; do NOT mention them again: %s.",
			strings.Join(req.CoveredTopics, ", "))
		b.WriteString("\nChoose a different subject that is visible but hasn't been discussed.")
		if req.Question == "" {
			fmt.Fprintf(&b, "\nIf there is nothing new to say, reply with exactly: %s", observe.NothingNew)
		}
	}
	return b.String()
}

// userPrompt builds the commentary user message for a request.
func userPrompt(req observe.GenerateRequest) string {
	scene := req.Context
	if scene == "" {
		scene = req.Description
	}

	var ask string
	switch {
	case req.Question != "":
		ask = req.Question
	case req.Trigger.Kind == observe.KindSpotted && req.Trigger.Label != "":
		ask = fmt.Sprintf("A %s was just spotted. Say something about it.", req.Trigger.Label)
	default:
		ask = "What's one thing worth noticing that you haven't mentioned yet?"
	}
	return "What you see:\n" + scene + "\n\n" + ask
}

func describeText(question string) string {
	if question == "" {
		return describePrompt
	}
	return describePrompt + "\nInclude whatever details are needed to answer: " + question
}
