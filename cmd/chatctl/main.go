// chatctl - terminal client for the chatd API.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/chatd/internal/client"
	"github.com/jeranaias/chatd/internal/model"
	"github.com/jeranaias/chatd/internal/server"
	"github.com/jeranaias/chatd/internal/session"
	"github.com/jeranaias/chatd/internal/util"
)

func main() {
	var (
		baseURL = flag.String("server", envOr("CHATD_URL", "http://127.0.0.1:8790"), "chatd server URL")
		token   = flag.String("token", os.Getenv("CHATD_TOKEN"), "bearer token for authenticated servers")
		model   = flag.String("model", "", "model override for this session")
	)
	flag.Usage = usage
	flag.Parse()

	api := client.NewClient(&client.ClientConfig{
		BaseURL: *baseURL,
		Token:   *token,
	})

	args := flag.Args()
	cmd := "chat"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	ctx := context.Background()
	var err error
	switch cmd {
	case "chat":
		err = runChat(ctx, api, *model)
	case "ask":
		err = runAsk(ctx, api, *model, strings.Join(args, " "))
	case "list":
		err = runList(ctx, api)
	case "show":
		err = runShow(ctx, api, args)
	case "rename":
		err = runRename(ctx, api, args)
	case "delete":
		err = runDelete(ctx, api, args)
	case "models":
		err = runModels(ctx, api)
	case "version":
		fmt.Printf("chatctl %s\n", server.Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `chatctl - terminal client for chatd

Usage:
  chatctl [flags] <command> [args]

Commands:
  chat              interactive chat session (default)
  ask <prompt>      one-shot prompt, streams the reply
  list              list chats, most recent first
  show <chat-id>    print a chat's history
  rename <id> <t>   rename a chat
  delete <id>|all   delete one chat, or every chat
  models            list available models
  version           print version

Flags:
`)
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// =============================================================================
// INTERACTIVE CHAT
// =============================================================================

// runChat drives a session store from a line-oriented REPL. Slash
// commands manage chats; anything else is sent as a prompt.
func runChat(ctx context.Context, api *client.Client, model string) error {
	store := session.NewStore(api, nil, zap.NewNop())
	if model != "" {
		store.SelectModel(model)
	}

	// Echo reply fragments as they stream in. The listener runs on the
	// sending goroutine, so printed needs no locking.
	var printed int
	store.SetChunkListener(func(text string) {
		fmt.Print(text)
		printed += len(text)
	})

	// send performs one turn. Buffered (envelope) replies produce no
	// chunks, so whatever the listener did not echo is printed after.
	send := func(prompt string) {
		printed = 0
		if err := store.SendMessage(ctx, prompt); err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			fmt.Fprintln(os.Stderr, "The prompt was kept; send /retry to try again.")
			return
		}
		if messages := store.Messages(); len(messages) > 0 {
			if tail := messages[len(messages)-1].Text; len(tail) > printed {
				fmt.Print(tail[printed:])
			}
		}
		fmt.Println()
	}

	fmt.Println("chatd interactive session. /help for commands, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleCommand(ctx, store, line, send)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		send(line)
	}
}

// handleCommand executes one slash command. Returns true to exit.
func handleCommand(ctx context.Context, store *session.Store, line string, send func(prompt string)) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help":
		fmt.Println(`  /new              start a fresh chat
  /chats            list chats
  /open <id>        switch to a chat
  /rename <title>   rename the current chat
  /delete           delete the current chat
  /model <name>     switch model (empty for server default)
  /retry            resend the last failed prompt
  /quit             exit`)
		return false, nil

	case "/new":
		store.NewChat()
		fmt.Println("Started a new chat.")
		return false, nil

	case "/chats":
		chats, err := store.FetchChats(ctx)
		if err != nil {
			return false, err
		}
		for _, c := range chats {
			marker := " "
			if c.ID == store.CurrentChatID() {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, chatLine(c))
		}
		return false, nil

	case "/open":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /open <chat-id>")
		}
		if err := store.OpenChat(ctx, args[0]); err != nil {
			return false, err
		}
		for _, m := range store.Messages() {
			fmt.Printf("[%s] %s\n", m.Role, m.Text)
		}
		return false, nil

	case "/rename":
		if store.CurrentChatID() == "" {
			return false, fmt.Errorf("no chat open")
		}
		title := strings.Join(args, " ")
		return false, store.RenameChat(ctx, store.CurrentChatID(), title)

	case "/delete":
		if store.CurrentChatID() == "" {
			return false, fmt.Errorf("no chat open")
		}
		return false, store.DeleteChat(ctx, store.CurrentChatID())

	case "/model":
		store.SelectModel(strings.Join(args, " "))
		return false, nil

	case "/retry":
		if store.LastPrompt() == "" {
			return false, fmt.Errorf("nothing to retry")
		}
		send(store.LastPrompt())
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

// chatLine renders one chat list entry on a single line. Titles are
// collapsed to a single-line preview and cut at a display width.
func chatLine(c model.ChatSummary) string {
	title := util.TruncateRunes(util.CollapseWhitespace(c.Title), maxTitleWidth)
	return fmt.Sprintf("%s  %s  (%s)", c.ID, title, c.UpdatedAt.Format(time.DateTime))
}

// maxTitleWidth bounds titles in list output.
const maxTitleWidth = 48

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

func runAsk(ctx context.Context, api *client.Client, model, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("usage: chatctl ask <prompt>")
	}

	turn, err := api.SendMessage(ctx, client.TurnRequest{Prompt: prompt, Model: model}, func(text string) {
		fmt.Print(text)
	})
	if err != nil {
		return err
	}
	fmt.Println()
	if turn.IsNew() {
		fmt.Fprintf(os.Stderr, "(chat %s)\n", turn.ChatID)
	}
	return nil
}

func runList(ctx context.Context, api *client.Client) error {
	chats, err := api.ListChats(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return nil
	}
	for _, c := range chats {
		fmt.Println(chatLine(c))
	}
	return nil
}

func runShow(ctx context.Context, api *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatctl show <chat-id>")
	}
	detail, err := api.GetChat(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n\n", detail.Chat.Title, detail.Chat.ID)
	for _, m := range detail.History {
		fmt.Printf("[%s] %s\n", m.Role, m.Text)
	}
	return nil
}

func runRename(ctx context.Context, api *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: chatctl rename <chat-id> <title>")
	}
	chat, err := api.RenameChat(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("Renamed to %q\n", chat.Title)
	return nil
}

func runDelete(ctx context.Context, api *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chatctl delete <chat-id>|all")
	}
	if args[0] == "all" {
		if err := api.DeleteAllChats(ctx); err != nil {
			return err
		}
		fmt.Println("All chats deleted.")
		return nil
	}
	if err := api.DeleteChat(ctx, args[0]); err != nil {
		return err
	}
	fmt.Println("Chat deleted.")
	return nil
}

func runModels(ctx context.Context, api *client.Client) error {
	models, def, err := api.Models(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m == def {
			fmt.Printf("%s (default)\n", m)
		} else {
			fmt.Println(m)
		}
	}
	return nil
}
