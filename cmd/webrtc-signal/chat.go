package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coder/websocket"
	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/damesirelord/WebRTC-single-server/internal/logging"
	"github.com/damesirelord/WebRTC-single-server/signaling"
	"github.com/spf13/cobra"
)

var (
	flagServer     string
	flagUser       string
	flagRoom       string
	flagChatFormat string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a room and chat from the terminal",
	Long: `Join a room and send every line read from stdin as a room chat message.
Everything the relay sends back is printed to stdout.

Examples:
  webrtc-signal chat --room r1
  webrtc-signal chat --server ws://relay.example.com:8087 --user alice --room r1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" {
			return errors.New("--room is required")
		}
		codec, err := signaling.CodecFor(flagChatFormat)
		if err != nil {
			return err
		}
		return chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), codec)
	},
}

func init() {
	f := chatCmd.Flags()
	f.StringVar(&flagServer, "server", "ws://127.0.0.1:8087", "relay base URL")
	f.StringVar(&flagUser, "user", "", "user id (generated by the relay if empty)")
	f.StringVar(&flagRoom, "room", "", "room to join")
	f.StringVar(&flagChatFormat, "wire-format", "json", "json or msgpack; must match the relay")
}

type chatLine struct {
	From rtcsignal.UserID `json:"from" msgpack:"from"`
	Text string           `json:"text" msgpack:"text"`
}

func chat(ctx context.Context, in io.Reader, out io.Writer, codec signaling.Codec) error {
	log := logging.New(os.Getenv("LOG_LEVEL"), "text")

	c, err := signaling.Dial(ctx, flagServer, rtcsignal.UserID(flagUser), codec, log)
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintf(out, "connected as %s\n", c.UserID)

	roomId := rtcsignal.RoomID(flagRoom)
	if err := c.Join(roomId); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			b, err := c.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			printMessage(out, codec, b)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return c.Leave(roomId)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := c.Chat(roomId, chatLine{From: c.UserID, Text: line}); err != nil {
				return err
			}
		}
	}
}

func printMessage(out io.Writer, codec signaling.Codec, b []byte) {
	var reply signaling.Reply
	if err := codec.Unmarshal(b, &reply); err == nil && reply.Type != "" {
		fmt.Fprintf(out, "[%s] room=%s user=%s %s\n", reply.Type, reply.RoomID, reply.UserID, reply.Message)
		return
	}
	var line chatLine
	if err := codec.Unmarshal(b, &line); err == nil && line.Text != "" {
		fmt.Fprintf(out, "<%s> %s\n", line.From, line.Text)
		return
	}
	fmt.Fprintf(out, "%s\n", b)
}
