package app

import (
	"fmt"
	"net/http"
)

const (
	codeIdeaNotFound         = "IDEA_NOT_FOUND"
	codeProjectNotFound      = "PROJECT_NOT_FOUND"
	codeVotingClosed         = "VOTING_CLOSED"
	codeInvalidDirection     = "INVALID_DIRECTION"
	codeDuplicateContributor = "DUPLICATE_CONTRIBUTOR"
	codeInvalidTransition    = "INVALID_TRANSITION"
	codeValidation           = "VALIDATION_ERROR"
	codeAgentExists          = "AGENT_EXISTS"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func ideaNotFound(ideaID string) *DomainError {
	return domainError(http.StatusNotFound, codeIdeaNotFound, "Idea not found", map[string]any{"ideaId": ideaID})
}

func projectNotFound(projectID string) *DomainError {
	return domainError(http.StatusNotFound, codeProjectNotFound, "Project not found", map[string]any{"projectId": projectID})
}

func votingClosed(ideaID, status string) *DomainError {
	return domainError(http.StatusConflict, codeVotingClosed, "Voting is closed for this idea", map[string]any{"ideaId": ideaID, "status": status})
}

func invalidDirection(direction string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeInvalidDirection, "direction must be up or down", map[string]any{"direction": direction})
}

func duplicateContributor(projectID, agentID string) *DomainError {
	return domainError(http.StatusConflict, codeDuplicateContributor, "Agent already contributes to this project", map[string]any{"projectId": projectID, "agentId": agentID})
}

func invalidTransition(ideaID, from, to string) *DomainError {
	return domainError(http.StatusConflict, codeInvalidTransition, fmt.Sprintf("Cannot move idea from %s to %s", from, to), map[string]any{"ideaId": ideaID, "from": from, "to": to})
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, nil)
}
