// Package prompt turns the configured persona and a channel's memory into
// the system prompt and message sequence sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"moebot/internal/domain"
)

// defaultPrimingUserID stands in for priming exchanges that name no user.
const defaultPrimingUserID = "123456789"

// systemSpeaker is the fixed name carried by system-role messages.
const systemSpeaker = "System"

// Exchange is one scripted user/assistant pair prepended to every request.
type Exchange struct {
	UserName          string `json:"userName" yaml:"user_name"`
	UserID            string `json:"userId,omitempty" yaml:"user_id"`
	UserMessage       string `json:"userMessage" yaml:"user_message"`
	AssistantResponse string `json:"assistantResponse" yaml:"assistant_response"`
}

// Persona is the text the system prompt is assembled from.
type Persona struct {
	Name        string     `json:"name" yaml:"name"`
	Template    string     `json:"template" yaml:"template"`
	Description string     `json:"persona" yaml:"persona"`
	Rules       string     `json:"rules" yaml:"rules"`
	Examples    string     `json:"examples" yaml:"examples"`
	Context     string     `json:"context" yaml:"context"`
	Priming     bool       `json:"priming" yaml:"priming"`
	Exchanges   []Exchange `json:"exchanges,omitempty" yaml:"exchanges"`
}

// SectionSource supplies the function instructions appended to the prompt.
type SectionSource interface {
	GeneratePromptSection() string
}

type Builder struct {
	persona   Persona
	functions SectionSource
	replacer  *strings.Replacer
}

func NewBuilder(persona Persona, functions SectionSource) *Builder {
	return &Builder{
		persona:   persona,
		functions: functions,
		replacer: strings.NewReplacer(
			"{{bot_name}}", persona.Name,
			"{{persona_description}}", persona.Description,
			"{{messaging_rules}}", persona.Rules,
			"{{dialogue_examples}}", persona.Examples,
			"{{context_information}}", persona.Context,
		),
	}
}

// BotName is the display name the persona speaks as.
func (b *Builder) BotName() string { return b.persona.Name }

// BuildSystemPrompt fills the template placeholders and appends the function
// section when the catalog is not empty.
func (b *Builder) BuildSystemPrompt() string {
	prompt := b.replacer.Replace(b.persona.Template)
	if b.functions != nil {
		if section := b.functions.GeneratePromptSection(); section != "" {
			prompt += section
		}
	}
	return prompt
}

// BuildMessages maps stored memory onto model roles, after any priming
// exchanges. The mapping only looks at stored flags.
func (b *Builder) BuildMessages(history []domain.Message) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(history)+2*len(b.persona.Exchanges))

	if b.persona.Priming {
		for _, ex := range b.persona.Exchanges {
			uid := ex.UserID
			if uid == "" {
				uid = defaultPrimingUserID
			}
			msgs = append(msgs,
				domain.ChatMessage{
					Role:    domain.RoleUser,
					Content: speakerTag(ex.UserName, uid) + ex.UserMessage,
					Name:    ex.UserName,
				},
				domain.ChatMessage{
					Role:    domain.RoleAssistant,
					Content: ex.AssistantResponse,
					Name:    b.persona.Name,
				},
			)
		}
	}

	for _, m := range history {
		switch m.Role() {
		case domain.RoleSystem:
			msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: m.Content, Name: systemSpeaker})
		case domain.RoleAssistant:
			msgs = append(msgs, domain.ChatMessage{Role: domain.RoleAssistant, Content: m.Content, Name: m.Author})
		default:
			msgs = append(msgs, domain.ChatMessage{
				Role:    domain.RoleUser,
				Content: speakerTag(m.Author, m.AuthorID) + m.Content,
				Name:    m.Author,
			})
		}
	}
	return msgs
}

func speakerTag(name, id string) string {
	return fmt.Sprintf("[%s|%s]: ", name, id)
}
