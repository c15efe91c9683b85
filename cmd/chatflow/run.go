package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/hitl"
	"github.com/BaSui01/chatflow/agent/transcript"
)

// =============================================================================
// 💻 终端会话
// =============================================================================

// consoleOptions run 子命令的参数
type consoleOptions struct {
	From    string
	To      string
	Message string
	UserID  string
}

// exitCommand 输入后结束终端会话（会话本身保持挂起）
const exitCommand = "exit"

var (
	speakerColor = color.New(color.FgCyan, color.Bold)
	promptColor  = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	doneColor    = color.New(color.FgGreen)
)

// runConsole 在终端驱动一次会话：打印每条消息，在每次挂起时读取一行人工输入。
// 空行让后端代为回复，输入终止哨兵结束会话，输入 exit 离开终端。
func runConsole(ctx context.Context, app *App, opts consoleOptions, in io.Reader, out io.Writer) error {
	conv, err := app.Manager().Create()
	if err != nil {
		return err
	}
	conv.On(conversation.EventMessage, func(_ context.Context, ev conversation.Event) {
		printTurn(out, ev.Turn)
	})

	scanner := bufio.NewScanner(in)
	message := opts.Message
	if message == "" {
		promptColor.Fprintf(out, "[%s → %s] > ", opts.From, opts.To)
		if !scanner.Scan() {
			return errors.New("no initial message")
		}
		message = scanner.Text()
	}

	err = conv.Start(ctx, transcript.NewTurn(opts.From, opts.To, message))
	for err == nil && conv.Status() == conversation.StatusSuspended {
		pending, _ := conv.Pending()
		promptColor.Fprintf(out, "[%s → %s] > ", pending.Speaker, pending.Recipient)
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == exitCommand {
			break
		}
		err = reply(ctx, app.Interrupts(), conv, line, opts.UserID)
	}

	fmt.Fprintln(out)
	if err != nil {
		errorColor.Fprintf(out, "conversation %s failed: %v\n", conv.ID(), err)
		return err
	}
	doneColor.Fprintf(out, "conversation %s %s", conv.ID(), conv.Status())
	if r := conv.Reason(); r != conversation.ReasonNone {
		doneColor.Fprintf(out, " (%s)", r)
	}
	fmt.Fprintln(out)
	return nil
}

// reply 通过待办应答恢复会话，没有待办（如已被取消）时直接 Continue
func reply(ctx context.Context, interrupts *hitl.InterruptManager, conv *conversation.Conversation, input, userID string) error {
	pending := interrupts.Pending(conv.ID())
	if len(pending) == 0 {
		return conv.Continue(ctx, input)
	}
	return interrupts.Resolve(ctx, pending[0].ID, hitl.Response{
		Input:     input,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	})
}

func printTurn(out io.Writer, turn transcript.Turn) {
	speakerColor.Fprintf(out, "%s → %s", turn.From, turn.To)
	fmt.Fprintf(out, ": %s\n", turn.Content)
}
