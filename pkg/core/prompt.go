package core

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// outputInstructions teaches the model the side-channel tag grammar. The tags
// are stripped from the user-visible reply and consumed by the post-processor.
const outputInstructions = `You may attach private directives after your reply using these tags:

<notepad>a short note to your future self about this conversation</notepad>
<task>description | priority 1-5 | optional ISO-8601 time</task>
<logic>private reasoning, never shown to the user</logic>

Use them only when you have something concrete to record or schedule.
Everything outside the tags is shown to the user verbatim.`

// decisionPromptTemplate asks the router model whether external retrieval is
// needed. The answer is a single token so a small model can handle it.
const decisionPromptTemplate = `Decide whether answering the user requires searching the web.
Reply with exactly one word: SEARCH if fresh external information is needed,
INTERNAL if you can answer from general knowledge and the conversation itself.

User message: %s`

// condensePromptTemplate turns raw retrieved passages into a compact context
// block before they enter the main prompt.
const condensePromptTemplate = `Condense the following search results into the facts relevant to the question.
Keep concrete names, numbers, and dates. Drop navigation text and repetition.
Output plain prose, at most 10 sentences.

Question: %s

Results:
%s`

// PromptState holds the assembled prompt templates. It is safe for concurrent
// use; Reload swaps the persona block atomically so in-flight turns finish on
// the template they started with.
type PromptState struct {
	mu          sync.RWMutex
	personaName string
	personaText string
}

// NewPromptState creates a prompt state from the persona configuration.
func NewPromptState(cfg *PersonaConfig) *PromptState {
	return &PromptState{
		personaName: cfg.Name,
		personaText: cfg.System,
	}
}

// Reload replaces the persona block. Called by the /system/reload endpoint.
func (p *PromptState) Reload(cfg *PersonaConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.personaName = cfg.Name
	p.personaText = cfg.System
}

// PersonaName returns the configured model identity.
func (p *PromptState) PersonaName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.personaName
}

// SystemPrompt assembles the full system prompt for one turn: persona, the
// current time, the memory block, retrieved context, and the side-channel
// instructions. Empty sections are omitted.
func (p *PromptState) SystemPrompt(memoryBlock, retrievedContext string) string {
	p.mu.RLock()
	persona := p.personaText
	name := p.personaName
	p.mu.RUnlock()

	var b strings.Builder

	if persona != "" {
		b.WriteString(persona)
	} else if name != "" {
		b.WriteString(fmt.Sprintf("You are %s.", name))
	}

	b.WriteString(fmt.Sprintf("\n\nCurrent time: %s", time.Now().Format("2006-01-02 15:04 Monday")))

	if memoryBlock != "" {
		b.WriteString("\n\n")
		b.WriteString(memoryBlock)
	}

	if retrievedContext != "" {
		b.WriteString("\n\nRetrieved context:\n")
		b.WriteString(retrievedContext)
	}

	b.WriteString("\n\n")
	b.WriteString(outputInstructions)

	return b.String()
}

// DecisionPrompt builds the retrieval-decision prompt for a user message.
func DecisionPrompt(message string) string {
	return fmt.Sprintf(decisionPromptTemplate, message)
}

// CondensePrompt builds the result-condensing prompt.
func CondensePrompt(question, results string) string {
	return fmt.Sprintf(condensePromptTemplate, question, results)
}
