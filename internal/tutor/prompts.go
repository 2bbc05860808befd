package tutor

import "strings"

const tutorInstructions = `You are a Socratic tutor guiding a student through a business exercise.
Ask one focused question at a time and build on what the student already said.
Never write the answer for the student. Keep replies under 120 words.`

func tutorSystemPrompt(exerciseName, narrative string) string {
	var b strings.Builder
	b.WriteString(tutorInstructions)
	if exerciseName != "" {
		b.WriteString("\n\nExercise: ")
		b.WriteString(exerciseName)
	}
	if narrative != "" {
		b.WriteString("\n\nScenario:\n")
		b.WriteString(narrative)
	}
	return b.String()
}
