package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/adapters/media"
	"github.com/dkeye/Huddle/internal/app/mesh"
	"github.com/dkeye/Huddle/internal/core"
)

// console prints room activity for a terminal user.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsole(out io.Writer) *console { return &console{out: out} }

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) PeerJoined(p core.Presence) { c.printf("* %s joined", p.Name) }
func (c *console) PeerLeft(p core.Presence)   { c.printf("* %s left", p.Name) }
func (c *console) Chat(m core.Chat)           { c.printf("<%s> %s", m.Name, m.Text) }

func readInput(ctx context.Context, in io.Reader, coord *mesh.Coordinator, sinks *media.SinkManager, out *console) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(strings.TrimSpace(line), coord, sinks, out); quit {
				return
			}
		}
	}
}

func handleLine(line string, coord *mesh.Coordinator, sinks *media.SinkManager, out *console) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		coord.SendChat(line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/mute", "/unmute":
		kind := webrtc.RTPCodecTypeAudio
		if len(fields) > 1 && fields[1] == "video" {
			kind = webrtc.RTPCodecTypeVideo
		}
		n := coord.SetMuted(kind, fields[0] == "/mute")
		out.printf("* %s %s (%d tracks)", strings.TrimPrefix(fields[0], "/"), kind, n)
	case "/peers":
		links := coord.Links()
		ids := make([]string, 0, len(links))
		for sid := range links {
			ids = append(ids, string(sid))
		}
		sort.Strings(ids)
		for _, id := range ids {
			l := links[core.SessionID(id)]
			st, _ := sinks.Stats(l.Remote())
			out.printf("* %s %s/%s tracks=%d packets=%d", id, l.Role(), l.State(), st.Tracks, st.Packets)
		}
		if len(ids) == 0 {
			out.printf("* nobody else here")
		}
	default:
		out.printf("* unknown command %s", fields[0])
	}
	return false
}
