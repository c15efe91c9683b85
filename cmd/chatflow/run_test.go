package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/testutil/mocks"
)

func TestRunConsole(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		input      string
		replies    []string
		wantOutput []string
		wantStatus conversation.Status
	}{
		{
			name:       "sentinel ends conversation",
			message:    "2+2?",
			input:      conversation.Sentinel + "\n",
			replies:    []string{"four"},
			wantOutput: []string{"user → assistant: 2+2?", "assistant → user: four", "concluded", "terminated"},
			wantStatus: conversation.StatusConcluded,
		},
		{
			name:       "empty line lets backend reply then exit",
			message:    "hello",
			input:      "\nexit\n",
			replies:    []string{"hi", "how are you", "fine"},
			wantOutput: []string{"user → assistant: how are you", "assistant → user: fine", "suspended"},
			wantStatus: conversation.StatusSuspended,
		},
		{
			name:       "first message read from input",
			input:      "from stdin\n" + conversation.Sentinel + "\n",
			replies:    []string{"ack"},
			wantOutput: []string{"user → assistant: from stdin", "assistant → user: ack"},
			wantStatus: conversation.StatusConcluded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, testConfig(), mocks.NewScriptedGateway().WithReplies(tt.replies...))
			var out bytes.Buffer

			err := runConsole(context.Background(), app, consoleOptions{
				From:    "user",
				To:      "assistant",
				Message: tt.message,
				UserID:  "tester",
			}, strings.NewReader(tt.input), &out)
			require.NoError(t, err)

			for _, want := range tt.wantOutput {
				assert.Contains(t, out.String(), want)
			}
			convs := app.Manager().List()
			require.Len(t, convs, 1)
			assert.Equal(t, tt.wantStatus, convs[0].Status())
		})
	}
}

func TestRunConsole_NoInitialMessage(t *testing.T) {
	app := newTestApp(t, testConfig(), mocks.NewScriptedGateway())
	var out bytes.Buffer

	err := runConsole(context.Background(), app, consoleOptions{From: "user", To: "assistant"}, strings.NewReader(""), &out)
	assert.Error(t, err)
}
