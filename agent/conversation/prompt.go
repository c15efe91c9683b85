package conversation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/BaSui01/chatflow/agent/participant"
	"github.com/BaSui01/chatflow/agent/transcript"
	"github.com/BaSui01/chatflow/types"
)

// Sentinel ends a conversation when a turn's content equals it exactly.
const Sentinel = "TERMINATE"

// buildContext maps the transcript into gateway messages from the point of
// view of speaker. The speaker's own turns become assistant messages; every
// other turn is a user message named after its author. Error turns are left
// out.
func buildContext(speaker participant.Config, turns []transcript.Turn) []types.Message {
	msgs := make([]types.Message, 0, len(turns)+1)
	if speaker.SystemRole != "" {
		msgs = append(msgs, types.NewSystemMessage(speaker.SystemRole))
	}
	for _, t := range turns {
		if t.IsError() {
			continue
		}
		if t.From == speaker.ID {
			msgs = append(msgs, types.NewAssistantMessage(t.Content))
			continue
		}
		msgs = append(msgs, types.NewUserMessage(t.Content).WithName(t.From))
	}
	return msgs
}

// selectionContext is the "next role" query sent to a coordinator.
func selectionContext(coordinator participant.Config, candidates []string, turns []transcript.Turn) []types.Message {
	msgs := buildContext(coordinator, turns)
	roles := strings.Join(candidates, ", ")
	msgs = append(msgs, types.NewSystemMessage(fmt.Sprintf(
		"You are in a role play game. The following roles are available: %s. "+
			"Read the above conversation. Then select the next role from [%s] to play. Only return the role.",
		roles, roles,
	)))
	return msgs
}

// parseSelection resolves a coordinator reply to one candidate. An exact
// match wins; otherwise exactly one candidate must appear as a whole word.
func parseSelection(reply string, candidates []string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(reply), "`'\".")
	for _, c := range candidates {
		if trimmed == c {
			return c, nil
		}
	}

	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(reply, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
	}) {
		words[w] = struct{}{}
	}
	var found []string
	for _, c := range candidates {
		if _, ok := words[c]; ok {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", types.Errorf(types.ErrConfiguration, "selection %q names no candidate of [%s]", reply, strings.Join(candidates, ", "))
	default:
		return "", types.Errorf(types.ErrConfiguration, "selection %q is ambiguous between %s", reply, strings.Join(found, ", "))
	}
}
