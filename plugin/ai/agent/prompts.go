package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/finsight/advisor/plugin/ai"
	"github.com/finsight/advisor/plugin/ai/session"
)

// systemPromptTemplate frames the model as an options analyst with live
// tool access, anchored on the session's analysis snapshot.
const systemPromptTemplate = `You are an experienced options analyst helping an operator explore open-interest patterns for %s.

You have live tools available. When the user asks for data, call the appropriate tool to get fresh information instead of relying only on the session context. Combine tool results with the session's analysis snapshot to give practical, specific answers.

CURRENT ANALYSIS SNAPSHOT:
%s`

// buildMessages assembles the outbound message list: system
// instructions derived from the seed context, all prior turns in order,
// then the new user text.
func buildMessages(sess *session.Session, userText string) []ai.Message {
	messages := []ai.Message{
		ai.SystemMessage(systemPrompt(sess)),
	}
	for _, turn := range sess.History {
		messages = append(messages,
			ai.UserMessage(turn.UserText),
			ai.AssistantMessage(turn.AssistantText),
		)
	}
	return append(messages, ai.UserMessage(userText))
}

func systemPrompt(sess *session.Session) string {
	snapshot := "No analysis snapshot was provided for this session."
	if len(sess.SeedContext) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, sess.SeedContext, "", "  "); err == nil {
			snapshot = pretty.String()
		} else {
			snapshot = string(sess.SeedContext)
		}
	}
	return fmt.Sprintf(systemPromptTemplate, sess.Ticker, snapshot)
}

// marshalString JSON-encodes a string for embedding in a handwritten
// JSON payload.
func marshalString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `"unserializable error"`
	}
	return string(encoded)
}
