package datastore

// SuggestionPayload is the denormalized record pushed to SSE subscribers.
// Field names are part of the client protocol.
type SuggestionPayload struct {
	ID                 uint              `json:"id"`
	UserID             uint              `json:"userId"`
	PredictedQuestions []QuestionPayload `json:"predicted_questions"`
	Suggestion         SuggestionDetail  `json:"suggestion"`
}

// SuggestionDetail carries the suggestion body.
type SuggestionDetail struct {
	RepresentativeImage string   `json:"representative_image"`
	Description         string   `json:"description"`
	PredictedActions    []string `json:"predicted_actions"`
}

// QuestionPayload is one predicted question.
type QuestionPayload struct {
	Question string `json:"question"`
}

// PayloadFromSuggestion builds the wire payload from a loaded record graph.
func PayloadFromSuggestion(s *Suggestion) SuggestionPayload {
	questions := make([]QuestionPayload, 0, len(s.Items))
	for _, item := range s.Items {
		questions = append(questions, QuestionPayload{Question: item.Question})
	}
	return SuggestionPayload{
		ID:                 s.ID,
		UserID:             s.UserID,
		PredictedQuestions: questions,
		Suggestion: SuggestionDetail{
			RepresentativeImage: s.RepresentativeImage,
			Description:         s.Description,
			PredictedActions:    s.PredictedActions,
		},
	}
}
