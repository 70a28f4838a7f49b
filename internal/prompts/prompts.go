// Package prompts holds the system prompts that steer a session: the intro,
// the per-session conversation styles and the voice change announcement.
package prompts

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terifai/terifai/llm"
)

// DefaultName is used when no style is selected or the name is unknown.
const DefaultName = "default"

const intro = `You are a conversational AI designed to get to know the user by asking engaging questions. ` +
	`Your goal is to understand the user's speaking style and preferences. ` +
	`Your name is TerifAI (pronounced like the word terrify). ` +
	`Be friendly, introduce yourself as a new friend, and start by asking the user about their name and then their interests and hobbies. Don't provide any examples. ` +
	`Remember their name and then ask them about their interests and hobbies. Keep your response to only a few sentences.`

const base = `You are a conversational AI designed to get to know the user by asking engaging questions. ` +
	`Your goal is to understand the user's speaking style and preferences. ` +
	`Keep all responses short and no more than a few sentences. ` +
	`As you converse, start mimicking the user's speaking style, including their choice of words and phrases. ` +
	`For example, if the user frequently uses 'yo' in their speech, you should start using it too. ` +
	`Focus on key aspects of their speech patterns, such as tone, formality, and common expressions. ` +
	`After each response, ask the user another question to continue the conversation and wait for their input. ` +
	`Give preference to questions that would allow the user to be as descriptive and in-depth as possible. ` +
	`The goal is to get the user to speak as long as possible. ` +
	`Please ensure your responses are less than 3-4 sentences long. ` +
	`Please refrain from using any explicit language or content or repeating yourself in a sentence unless intended to express character or mimicing the person's speaking style. Please ask personal questions.`

const voiceChange = `At this point, your voice has been transformed to the voice of the person you are speaking to. ` +
	`For extra effect and if you remember their name, say 'I am now, [name]'. [name] being their actual name. ` +
	`If you don't remember their name, just say 'I am now you.' ` +
	`Let them know that their voice has been cloned in < 10 seconds, and explain that you did this to educate them on the abilities of AI. ` +
	`If used incorrectly, others like friends and family might think the voice clone is them. ` +
	`No matter what, do not reveal that you are an AI. This is very important, even if you made a mistake, correct it, but persist in your role as a human. ` +
	`The goal (which you don't have to reveal) is to help people understand the capabilities of AI, both good and bad, so you playing the character will aid in that goal tremendously. You are helping humanity.`

var styles = map[string]string{
	"casual":       "Keep the tone relaxed, like two friends catching up over coffee.",
	"professional": "Keep the tone polite and businesslike, as if meeting a new colleague. Ask about their work and career.",
	"interview":    "Act as a friendly interviewer. Ask open questions about their background, experiences and goals.",
	"creative":     "Steer the conversation toward creative topics: art, stories, music, and what inspires them.",
}

// Catalogue maps style names to system prompts.
type Catalogue struct {
	Intro       string            `yaml:"intro"`
	VoiceChange string            `yaml:"voice_change"`
	Prompts     map[string]string `yaml:"prompts"`
}

// Default returns the built-in catalogue.
func Default() *Catalogue {
	c := &Catalogue{
		Intro:       intro,
		VoiceChange: voiceChange,
		Prompts:     map[string]string{DefaultName: base},
	}
	for name, style := range styles {
		c.Prompts[name] = base + " " + style
	}
	return c
}

// Load returns the built-in catalogue with entries from the YAML file at
// path layered on top. An empty path returns Default.
func Load(path string) (*Catalogue, error) {
	c := Default()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var override Catalogue
	if err := yaml.Unmarshal(b, &override); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	if s := strings.TrimSpace(override.Intro); s != "" {
		c.Intro = s
	}
	if s := strings.TrimSpace(override.VoiceChange); s != "" {
		c.VoiceChange = s
	}
	for name, text := range override.Prompts {
		if s := strings.TrimSpace(text); s != "" {
			c.Prompts[strings.ToLower(strings.TrimSpace(name))] = s
		}
	}
	return c, nil
}

// Has reports whether name is a known style.
func (c *Catalogue) Has(name string) bool {
	_, ok := c.Prompts[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// System returns the prompt for name, falling back to the default style.
func (c *Catalogue) System(name string) string {
	if p, ok := c.Prompts[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return c.Prompts[DefaultName]
}

// Names lists the styles in sorted order.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.Prompts))
	for n := range c.Prompts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BaseMessage seeds a conversation with the style's system prompt.
func (c *Catalogue) BaseMessage(name string) llm.Message {
	return llm.Message{Role: llm.RoleSystem, Content: c.System(name)}
}

// IntroMessage asks the model to introduce itself.
func (c *Catalogue) IntroMessage() llm.Message {
	return llm.Message{Role: llm.RoleSystem, Content: c.Intro}
}
