package scripted

import "github.com/mockinterview/interviewd/internal/pipeline"

// Question is one entry of the fixed interview plan.
type Question struct {
	ID       int
	Text     string
	Type     string
	Category string
}

// DefaultQuestions is the standard four-question behavioural interview.
var DefaultQuestions = []Question{
	{
		ID:       1,
		Text:     "Please introduce yourself briefly, including your background, key experiences, and what you're looking for in your next role.",
		Type:     "introduction",
		Category: "self_introduction",
	},
	{
		ID:       2,
		Text:     "Tell me about a recent achievement you are most proud of. What role did you play?",
		Type:     "behavioral",
		Category: "achievement",
	},
	{
		ID:       3,
		Text:     "Describe a time when you overcame a conflict or challenge.",
		Type:     "behavioral",
		Category: "conflict_resolution",
	},
	{
		ID:       4,
		Text:     "How do you approach joining a new team and integrating with existing team members?",
		Type:     "behavioral",
		Category: "team_integration",
	},
}

// CompletionMessage closes the interview after the last question.
const CompletionMessage = pipeline.CompletionMessage

var followUpTemplates = map[string][]string{
	"specific_details": {
		"Can you walk me through the specific steps you took in that situation?",
		"What exactly was your role in that experience?",
		"What specific actions did you take, and what was the outcome?",
	},
	"leadership": {
		"How did you motivate your team during that experience?",
		"What leadership approach did you take, and why?",
		"How did you handle any pushback or resistance from team members?",
	},
	"problem_solving": {
		"What alternative solutions did you consider before settling on that approach?",
		"How did you identify the root cause of that problem?",
		"Looking back, what would you do differently if faced with a similar problem?",
	},
	"teamwork": {
		"How did you ensure effective collaboration with your team members?",
		"How did you handle any conflicts or disagreements within the team?",
		"What role did you naturally take in the team dynamic?",
	},
	"results_impact": {
		"What was the measurable impact of your work on that project?",
		"How did stakeholders react to the results you delivered?",
		"How do you measure success in situations like that?",
	},
	"general": {
		"Can you tell me more about that experience?",
		"What did you learn from that experience?",
		"Could you give me a concrete example of that?",
	},
}

var categoryStrategy = map[string]string{
	"self_introduction":   "competency_assess",
	"achievement":         "deep_dive",
	"conflict_resolution": "behavioral_explore",
	"team_integration":    "situational_test",
}
