package quest

import (
	"fmt"
)

// Fragment names served by the backend for each variant.
const (
	SimpleFragment    = "purpose-quest-simple.html"
	LiteFragment      = "purpose-quest-lite-content.html"
	ElaborateFragment = "purpose-quest-elaborate.html"
)

var simpleFields = []Field{
	{ID: "memorable_experience", Path: []string{"Memorable Experience"}, Part: 1,
		Prompt: "Describe an experience that you still think about and why it stayed with you."},
	{ID: "aspirations", Path: []string{"Aspirations"}, Part: 2,
		Prompt: "What do you want your life to look like ten years from now?"},
	{ID: "life_lesson", Path: []string{"Life Lesson"}, Part: 3,
		Prompt: "What is the most important lesson life has taught you so far?"},
	{ID: "influential_people", Path: []string{"Influential People"}, Part: 4,
		Prompt: "Who has influenced you the most, and how did they change you?"},
	{ID: "daily_joy", Path: []string{"Daily Joy"}, Part: 5,
		Prompt: "Which small everyday moments bring you joy?"},
	{ID: "legacy", Path: []string{"Legacy"}, Part: 6,
		Prompt: "How would you like to be remembered?"},
}

func elaborate(part int, section, subsection, id, prompt string) Field {
	return Field{ID: id, Path: []string{section, subsection, id}, Part: part, Prompt: prompt}
}

var elaborateFields = []Field{
	elaborate(1, "Past Experiences", "Foundational Memories", "childhood_memory",
		"Share a childhood memory that shaped who you are today."),
	elaborate(1, "Past Experiences", "Foundational Memories", "proud_moment",
		"Describe a moment you were truly proud of yourself."),
	elaborate(1, "Past Experiences", "Interpersonal Relationships", "influential_relationship",
		"Which relationship influenced you the most?"),
	elaborate(1, "Past Experiences", "Interpersonal Relationships", "lost_relationship",
		"Tell us about a relationship you lost and what it taught you."),

	elaborate(2, "Aspirations", "Personal Goals", "personal_goal_decade",
		"What personal goal do you want to reach in the next decade?"),
	elaborate(2, "Aspirations", "Personal Goals", "best_version_characteristics",
		"Describe the best version of yourself."),
	elaborate(2, "Aspirations", "Professional/Career Goals", "professional_success",
		"What does professional success mean to you?"),
	elaborate(2, "Aspirations", "Professional/Career Goals", "skills_wish",
		"Which skills do you wish you had?"),

	elaborate(3, "Challenges", "Life Obstacles", "challenge_faced",
		"Describe the biggest challenge you have faced."),
	elaborate(3, "Challenges", "Life Obstacles", "overwhelmed_situation",
		"Tell us about a time you felt overwhelmed and how you handled it."),
	elaborate(3, "Challenges", "Inner Conflicts", "internal_conflicts",
		"Which inner conflicts do you struggle with?"),
	elaborate(3, "Challenges", "Inner Conflicts", "resolution_method",
		"How do you usually resolve those conflicts?"),

	elaborate(4, "Values", "Core Beliefs", "core_values",
		"What are your core values?"),
	elaborate(4, "Values", "Core Beliefs", "values_origin",
		"Where do those values come from?"),
	elaborate(4, "Values", "Daily Life", "daily_values_alignment",
		"How do your daily actions reflect your values?"),
	elaborate(4, "Values", "Daily Life", "standing_up_experience",
		"Describe a time you stood up for what you believe in."),

	elaborate(5, "Life's Meaning", "Purpose Exploration", "life_purpose",
		"What do you believe your purpose in life is?"),
	elaborate(5, "Life's Meaning", "Purpose Exploration", "life_commitments",
		"Which commitments give your life meaning?"),
	elaborate(5, "Life's Meaning", "Philosophical Beliefs", "philosophical_beliefs",
		"Which philosophical or spiritual beliefs guide you?"),
	elaborate(5, "Life's Meaning", "Philosophical Beliefs", "beliefs_influence",
		"How do those beliefs influence your decisions?"),

	elaborate(6, "Future Visions", "Legacy", "legacy_description",
		"Describe the legacy you want to leave behind."),
	elaborate(6, "Future Visions", "Legacy", "desired_impact",
		"What impact do you want to have on the people around you?"),
	elaborate(6, "Future Visions", "Growth & Learning", "growth_areas",
		"In which areas do you most want to grow?"),
	elaborate(6, "Future Visions", "Growth & Learning", "future_experiences",
		"Which experiences do you want to have in the future?"),
}

var (
	simpleTemplate    = MustTemplate(Simple, SimpleFragment, simpleFields...)
	liteTemplate      = MustTemplate(Lite, LiteFragment, simpleFields[:2]...)
	elaborateTemplate = MustTemplate(Elaborate, ElaborateFragment, elaborateFields...)
)

// Store resolves form types and fragment names to templates.
type Store struct {
	templates map[FormType]*Template
	order     []FormType
}

// NewStore creates a store holding the given templates.
func NewStore(templates ...*Template) *Store {
	s := &Store{templates: make(map[FormType]*Template, len(templates))}
	for _, t := range templates {
		if _, ok := s.templates[t.Type]; !ok {
			s.order = append(s.order, t.Type)
		}
		s.templates[t.Type] = t
	}
	return s
}

// DefaultStore returns the three built-in templates.
func DefaultStore() *Store {
	return NewStore(simpleTemplate, liteTemplate, elaborateTemplate)
}

// Get returns the template for a form type.
func (s *Store) Get(t FormType) (*Template, error) {
	tmpl, ok := s.templates[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTemplate, t)
	}
	return tmpl, nil
}

// ByFragment returns the template served under a fragment name.
func (s *Store) ByFragment(name string) (*Template, error) {
	for _, t := range s.templates {
		if t.Fragment == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: fragment %q", ErrNoTemplate, name)
}

// Types returns the stored form types in registration order.
func (s *Store) Types() []FormType {
	return append([]FormType(nil), s.order...)
}
