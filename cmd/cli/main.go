package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"plaindex/pkg/client"
	"plaindex/pkg/common"
)

const Prompt = "pla> "

func main() {
	serverAddr := flag.String("addr", "localhost:9090", "plaindex TCP server address")
	flag.Parse()

	fmt.Printf("plaindex CLI (target: %s)\n", *serverAddr)
	fmt.Println("Connecting...")

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: ensure the server is running (e.g. go run ./cmd/server -build demo=data.bin).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "locate", "loc":
			handleLocate(cli, parts)
		case "rank", "get":
			handleRank(cli, parts)
		case "range", "scan":
			handleRange(cli, parts)
		case "stats":
			handleStats(cli, parts)
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func parseKey(s string) (common.KeyType, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		fmt.Println("Error: key must be an unsigned 32-bit integer")
		return 0, false
	}
	return common.KeyType(v), true
}

func handleLocate(cli *client.Client, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: locate <index> <key>")
		return
	}
	key, ok := parseKey(parts[2])
	if !ok {
		return
	}

	start := time.Now()
	pred, seg, err := cli.Locate(parts[1], key)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Printf("predicted %d, segment %d (%v)\n", pred, seg, duration)
	}
}

func handleRank(cli *client.Client, parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: rank <index> <key>")
		return
	}
	key, ok := parseKey(parts[2])
	if !ok {
		return
	}

	start := time.Now()
	rank, found, err := cli.RankOf(parts[1], key)
	duration := time.Since(start)

	switch {
	case err != nil:
		fmt.Printf("Error: %v\n", err)
	case !found:
		fmt.Printf("(not found) (%v)\n", duration)
	default:
		fmt.Printf("rank %d (%v)\n", rank, duration)
	}
}

func handleRange(cli *client.Client, parts []string) {
	if len(parts) < 4 {
		fmt.Println("Usage: range <index> <lo> <hi>")
		return
	}
	lo, ok1 := parseKey(parts[2])
	hi, ok2 := parseKey(parts[3])
	if !ok1 || !ok2 {
		return
	}

	start := time.Now()
	from, to, err := cli.Range(parts[1], lo, hi)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("positions [%d, %d): %d keys (%v)\n", from, to, to-from, duration)
}

func handleStats(cli *client.Client, parts []string) {
	index := ""
	if len(parts) > 1 {
		index = parts[1]
	}
	stats, err := cli.Stats(index)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func printHelp() {
	fmt.Println(`
Commands:
  locate <index> <key>       Predicted position and segment
  rank <index> <key>         Rank of the first occurrence of key
  range <index> <lo> <hi>    Positions of keys in [lo, hi]
  stats [index]              Server or index statistics
  exit                       Exit CLI
	`)
}
