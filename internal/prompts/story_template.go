package prompts

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"Story-Loom/server/internal/models"
)

// Template names registered by InitializeDefaultTemplates
const (
	StoryBlockSystem      = "story_block_system"
	StoryBlockContext     = "story_block_context"
	ClosingSynopsisSystem = "closing_synopsis_system"
	VisionSubject         = "vision_subject"
	PhotoAssistance       = "photo_assistance"
	TextAction            = "text_action"
	PreviousDialogue      = "previous_dialogue"
	BackdropImage         = "backdrop_image"
	HighlightSegment      = "highlight_segment"
	SessionBriefSystem    = "session_brief_system"
	SessionBriefContext   = "session_brief_context"
	CharacterPortrait     = "character_portrait"
	PromoImage            = "promo_image"
	OpeningVideo          = "opening_video"
)

// Fixed requirement lines appended to the block context per story state
const (
	OpeningRequirements = "This is the opening dialogue, include more dialogue to introduce the world and the main character"
	ClosingRequirements = "We are approaching, but not yet at the end of the story, start slowly wrapping up the story"
	FinalRequirements   = "This is the final dialogue, use this opportunity to write an ending through the dialogue. The possible actions for the player should be an empty array"
)

// BaseCharacter is the writer persona every story prompt starts with
const BaseCharacter = `You are a passionate story writer, with a knack for writing stories based around
real world history and culture.`

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// NewDefaultEngine creates an engine with the default templates, replaced by
// the overrides in overridesDir when it is set
func NewDefaultEngine(overridesDir string) (*TemplateEngine, error) {
	e := NewTemplateEngine()
	if err := e.InitializeDefaultTemplates(); err != nil {
		return nil, err
	}
	if overridesDir == "" {
		return e, nil
	}
	n, err := e.LoadOverrides(overridesDir)
	if err != nil {
		return nil, err
	}
	log.Printf("[Prompts] Loaded %d template overrides from %s", n, overridesDir)
	return e, nil
}

// RegisterTemplate registers a new template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}
	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render renders a template with the given variables. Placeholders without a
// value are kept as they are.
func (e *TemplateEngine) Render(templateName string, vars map[string]string) (string, error) {
	tmpl, err := e.GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	result := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		name := varRegex.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
	return strings.TrimSpace(result), nil
}

// MustRender renders a built-in template and panics if it is missing
func (e *TemplateEngine) MustRender(templateName string, vars map[string]string) string {
	out, err := e.Render(templateName, vars)
	if err != nil {
		panic(err)
	}
	return out
}

// InitializeDefaultTemplates registers the story, media and session templates
func (e *TemplateEngine) InitializeDefaultTemplates() error {
	templates := []*Template{
		{
			Name:        StoryBlockSystem,
			Description: "System prompt for writing the next dialogue block",
			Content: `{{base_character}}

You are tasked with writing the dialogue for a text-based adventure game. You will only need to write a small portion of the dialogue, up until an action is expected from the player. Players will only have limited attempts to influence the story.

You will be provided with context for the current story, including any requirements for the dialogue. The dialogue will be fed to the player one by one to keep the story engaging.

Every dialogue line starts with the name of the speaking character followed by a colon, for example "Marcus: Keep your voice down." Lines without a speaker are narrated by the main character.

Players will take the role of the main character in the game. At the end of the dialogue, give the player an option to participate in the adventure. End the dialogue with an expectation for the main character to act. Also include a list of suggested actions that the character could take. For example:

["Accept the offer", "Negotiate for a better price", "Stick to your principles and refuse the offer"]

When the scene calls for the player to find a real object, you may also include "photo_requirements", a short list describing what the player should photograph.

Your response should only include the content in JSON. The structure of the response should follow this example:

{ "dialogue": ["Marcus: This is the long dialogue", "Second part"], "possible_actions": ["Action 1", "Action 2"] }`,
		},
		{
			Name:        StoryBlockContext,
			Description: "Story context for block and closing synopsis generation",
			Content: `## Story Inspiration Reference
{{reference}}

## Synopsis
{{synopsis}}

## Current Act Synopsis
{{act_synopsis}}

## Main Character
{{main_character}}

## Supporting Characters
{{supporting_characters}}

## Additional Requirements
{{additional_requirements}}`,
		},
		{
			Name:        ClosingSynopsisSystem,
			Description: "System prompt for the closing act synopsis",
			Content: `{{base_character}}

You are tasked with writing the synopsis for the final act of a short story.

You will be provided with context for the story up to the final act, use the
information to write an appropriate ending for the story. The story may end in
one of the following ways:
{{possible_endings}}

Respond with only the synopsis, and nothing else`,
		},
		{
			Name:        VisionSubject,
			Description: "Instruction for classifying a submitted photo",
			Content: `What is the most prominent object in this image? For example, this could be either a sword, knife, frying pan or pillow. This could also be animals or plants, like a fish, dog, or flower.

Respond only with the name of the item identified`,
		},
		{
			Name:        PhotoAssistance,
			Description: "Action context for a photo submission",
			Content: `The player has invoked a secret power that allows them to break the laws of the world. The main character can now turn the situation in their favour using the special item endowed by the player:
- {{subject}}

Continue the dialogue in a way that allows the main character to use the item as though it magically appeared to assist them`,
		},
		{
			Name:        TextAction,
			Description: "Action context for a free-text action",
			Content: `The player has taken the following action: {{action}}

Assess the action if this is determined to be unrealistic or unsuitable in the context of the story, dismiss it and punish the player in the following dialogue`,
		},
		{
			Name:        PreviousDialogue,
			Description: "Continuity lines from the previous block",
			Content: `The next dialogue is a continuation of the previous dialogue:
- {{lines}}`,
		},
		{
			Name:        BackdropImage,
			Description: "Image prompt for a block backdrop",
			Content: `A cinematic wide establishing shot for a scene in the following world, without any people in focus and without any text.

## World Setting
{{world_setting}}

## Scene
{{scene}}`,
		},
		{
			Name:        HighlightSegment,
			Description: "Video prompt for one segment of the highlight reel",
			Content: `A cinematic moment from the story "{{title}}", part {{number}} of {{total}}.

{{scene}}`,
		},
		{
			Name:        SessionBriefSystem,
			Description: "System prompt for generating a new session",
			Content: `{{base_character}}

You will be provided reference material for the project, which you must base
your story on. Based on this brief, write a detailed design document for the
immersive story.

For the world setting, while drawing inspiration from the reference material,
mix it with popular fictional genres, from either Fantasy, Steampunk, Medieval,
Futuristic, Dystopian or Espionage.

Include a diverse set of characters with their own personality, including how
each of them converses in text. The first character is the main character that
the player controls.

Also include multiple options for possible endings which has at least one good
ending and one bad ending, a synopsis for the opening act and the middle act,
and a prologue of a few short lines shown before the story starts.

In your response, include only the brief in JSON and no other commentary.
Use the following structure:

{ "title": "Title", "genres": ["history", "mystery"], "synopsis": "overall storyline", "reference_summary": "short summary of the reference material", "world_setting": "world setting", "characters": [{ "name": "Marcus", "personality": "personality", "background": "background" }], "possible_endings": ["ending and how to reach it"], "opening_act_synopsis": "opening act", "middle_act_synopsis": "middle act", "prologue": ["line 1", "line 2"] }`,
		},
		{
			Name:        SessionBriefContext,
			Description: "Reference material for session generation",
			Content: `# Reference Material

{{reference_material}}`,
		},
		{
			Name:        CharacterPortrait,
			Description: "Image prompt for a character portrait",
			Content: `Create a hyper-realistic social media profile picture of a character facing the camera.

The image should have the following themes: {{genres}}

The character has the following description:

## Background
{{background}}

## Personality
{{personality}}`,
		},
		{
			Name:        PromoImage,
			Description: "Image prompt for the session promo image",
			Content: `A promotional key art image for the story "{{title}}", without any text.

{{world_setting}}`,
		},
		{
			Name:        OpeningVideo,
			Description: "Video prompt for the opening sequence",
			Content: `An opening title sequence for the story "{{title}}", slow camera movement over the world.

{{synopsis}}`,
		},
	}

	for _, tmpl := range templates {
		if err := e.RegisterTemplate(tmpl); err != nil {
			return fmt.Errorf("failed to register template %s: %w", tmpl.Name, err)
		}
	}

	return nil
}

// CharacterProfile formats one character for a story context
func CharacterProfile(c models.Character) string {
	return fmt.Sprintf("Name: %s\nPersonality: %s\nBackground: %s", c.Name, c.Personality, c.Background)
}

// StoryContextVars builds the variables shared by the block and closing
// synopsis prompts
func StoryContextVars(session *models.Session, actSynopsis, requirements string) map[string]string {
	vars := map[string]string{
		"base_character":          BaseCharacter,
		"reference":               session.ReferenceSummary,
		"synopsis":                session.Synopsis,
		"act_synopsis":            actSynopsis,
		"possible_endings":        session.PossibleEndings,
		"additional_requirements": requirements,
	}
	if main, ok := session.MainCharacter(); ok {
		vars["main_character"] = CharacterProfile(main)
	}
	supporting := session.SupportingCharacters()
	profiles := make([]string, 0, len(supporting))
	for _, c := range supporting {
		profiles = append(profiles, CharacterProfile(c))
	}
	vars["supporting_characters"] = strings.Join(profiles, "\n\n")
	return vars
}

// ParseTemplateVariables extracts variables from a template
func ParseTemplateVariables(templateContent string) []string {
	matches := varRegex.FindAllStringSubmatch(templateContent, -1)

	seen := make(map[string]bool)
	vars := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) > 1 && !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}

	return vars
}

// ExportTemplate exports a template as JSON
func (e *TemplateEngine) ExportTemplate(name string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}

	return string(data), nil
}

// Names returns the registered template names in order
func (e *TemplateEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadOverrides imports every *.json template in dir. Each one must replace a
// registered template; nothing is registered if any file is rejected.
func (e *TemplateEngine) LoadOverrides(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}

	overrides := make([]*Template, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("failed to read template override: %w", err)
		}
		tmpl, err := decodeTemplate(data)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if _, err := e.GetTemplate(tmpl.Name); err != nil {
			return 0, fmt.Errorf("%s: override of unknown template %q", filepath.Base(path), tmpl.Name)
		}
		overrides = append(overrides, tmpl)
	}

	for _, tmpl := range overrides {
		if err := e.RegisterTemplate(tmpl); err != nil {
			return 0, err
		}
	}
	return len(overrides), nil
}

// DumpTemplates writes every registered template to dir as <name>.json, the
// format LoadOverrides reads
func (e *TemplateEngine) DumpTemplates(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range e.Names() {
		data, err := e.ExportTemplate(name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(data+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write template %s: %w", name, err)
		}
	}
	return nil
}

func decodeTemplate(data []byte) (*Template, error) {
	var tmpl Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}
	tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	return &tmpl, nil
}
