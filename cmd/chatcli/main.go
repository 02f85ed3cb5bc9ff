// chatcli is a terminal visitor client for the relay, mainly useful for
// poking at a running instance without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/astanek/livechat-relay/pkg/chatclient"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay websocket URL")
	name := flag.String("name", "", "contact name to submit (empty skips the form)")
	email := flag.String("email", "", "contact email to submit")
	flag.Parse()

	if err := run(*url, *name, *email); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func run(url, name, email string) error {
	client := chatclient.New(chatclient.Config{
		URL: url,
		OnEntry: func(e chatclient.Entry) {
			switch e.Kind {
			case chatclient.EntrySystem:
				fmt.Printf("* %s\n", e.Text)
			case chatclient.EntryReceived:
				fmt.Printf("< %s\n", e.Text)
			case chatclient.EntrySent:
				fmt.Printf("> %s\n", e.Text)
			}
		},
	})

	if err := client.Connect(context.Background()); err != nil {
		return err
	}
	defer client.Close()

	info := chatclient.UserInfo{Name: name, Email: email}
	if info.IsEmpty() {
		client.SkipUserInfo()
	} else if err := client.SubmitUserInfo(info); err != nil {
		return err
	}

	fmt.Println("type messages, ctrl-d to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := client.Send(text); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
	return scanner.Err()
}
