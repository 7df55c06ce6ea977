package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashureev/souq-assistant/internal/agent"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant on stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openConsole()
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return chatLoop(cmd.Context(), rt.svc, userID(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func chatLoop(ctx context.Context, svc *agent.Service, user string, in io.Reader, out io.Writer) error {
	session := uuid.NewString()

	turn, err := svc.Snapshot(ctx, user)
	if err != nil {
		return err
	}
	printTurn(out, turn)

	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}
		turn, err := svc.HandleMessage(ctx, agent.Inbound{
			UserID:      user,
			SessionID:   session,
			Text:        text,
			ClientToken: uuid.NewString(),
		})
		if err != nil {
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printTurn(out, turn)
	}
	return scanner.Err()
}

func printTurn(out io.Writer, turn *agent.Turn) {
	_, _ = fmt.Fprintln(out, turn.Reply)
	if turn.ListingID != "" {
		_, _ = fmt.Fprintf(out, "[listing %s]\n", turn.ListingID)
	}
	if turn.RetryAfterMs > 0 {
		_, _ = fmt.Fprintf(out, "[retry after %dms]\n", turn.RetryAfterMs)
	}
}
