package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/sushant-115/blinkdb/api/lineproto"
	"github.com/sushant-115/blinkdb/config/certs"
)

const clientTimeout = 10 * time.Second

// client is one connection to a blinkdb server.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(addr string, tlsCfg *tls.Config) (*client, error) {
	dialer := &net.Dialer{Timeout: clientTimeout}
	var (
		conn net.Conn
		err  error
	)
	if tlsCfg != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// perform sends one request line and prints the reply.
func (c *client) perform(out io.Writer, line string) {
	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()
	resp, err := lineproto.Send(ctx, c.conn, c.reader, line)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%s %s\n", resp.Status, resp.Message)
	for _, row := range resp.Lines {
		fmt.Fprintf(out, "  %s\n", row)
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  put <key> <value>       upsert")
	fmt.Fprintln(out, "  insert <key> <value>    fails if the key exists")
	fmt.Fprintln(out, "  get <key>")
	fmt.Fprintln(out, "  delete <key>")
	fmt.Fprintln(out, "  scan <from|-> <to|-> [limit]")
	fmt.Fprintln(out, "  size | height | verify | ping")
	fmt.Fprintln(out, "  help")
	fmt.Fprintln(out, "  exit / quit")
}

// processCommand handles a single command line, either from args or
// interactive mode. It reports whether the session should end.
func processCommand(c *client, out io.Writer, line string) (quit bool) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	command := strings.ToLower(args[0])

	switch command {
	case "put", "insert":
		if len(args) < 3 {
			fmt.Fprintf(out, "Error: %s command requires a key and a value.\n", command)
			return false
		}
	case "get", "delete":
		if len(args) < 2 {
			fmt.Fprintf(out, "Error: %s command requires a key.\n", command)
			return false
		}
	case "scan":
		if len(args) < 3 {
			fmt.Fprintf(out, "Error: scan requires <from> <to>; use %s for an open end.\n", lineproto.Unbounded)
			return false
		}
	case "size", "height", "verify", "ping":
	case "help":
		printHelp(out)
		return false
	case "exit", "quit":
		fmt.Fprintln(out, "Exiting blinkdb CLI.")
		return true
	default:
		fmt.Fprintln(out, "Error: Unknown command. Type 'help' for a list of commands.")
		return false
	}
	c.perform(out, strings.TrimSpace(line))
	return false
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("put"),
		readline.PcItem("insert"),
		readline.PcItem("get"),
		readline.PcItem("delete"),
		readline.PcItem("scan"),
		readline.PcItem("size"),
		readline.PcItem("height"),
		readline.PcItem("verify"),
		readline.PcItem("ping"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func runInteractive(c *client) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "blinkdb> ",
		HistoryFile:     filepath.Join(home, ".blinkdb_history"),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "blinkdb CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		switch err {
		case nil:
		case readline.ErrInterrupt:
			if line != "" {
				continue
			}
			return nil
		case io.EOF:
			return nil
		default:
			return err
		}
		if processCommand(c, rl.Stdout(), line) {
			return nil
		}
	}
}

func main() {
	log.SetFlags(0)
	addr := flag.String("addr", "localhost:7070", "blinkdb server address")
	caFile := flag.String("ca", "", "CA certificate; enables TLS")
	certFile := flag.String("cert", "", "client certificate for mutual TLS")
	keyFile := flag.String("key", "", "client key for mutual TLS")
	flag.Parse()

	var tlsCfg *tls.Config
	if *caFile != "" {
		var err error
		if tlsCfg, err = certs.LoadClientTLSConfig(*caFile, *certFile, *keyFile); err != nil {
			log.Fatalf("Error loading TLS material: %v", err)
		}
		if host, _, err := net.SplitHostPort(*addr); err == nil {
			tlsCfg.ServerName = host
		}
	}

	c, err := dial(*addr, tlsCfg)
	if err != nil {
		log.Fatalf("Error connecting to %s: %v", *addr, err)
	}
	defer c.conn.Close()

	if args := flag.Args(); len(args) > 0 {
		processCommand(c, os.Stdout, strings.Join(args, " "))
		return
	}
	if err := runInteractive(c); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
