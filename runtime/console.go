package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// StdioAnswerSource reads answers line by line from r, printing each
// question to w first. It is the answer source used by the CLI.
func StdioAnswerSource(r io.Reader, w io.Writer) AnswerSource {
	reader := bufio.NewReader(r)
	return func(ctx context.Context, question string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(w, "\n%s\n> ", question)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				// Treat a closed input stream as an exit request so a
				// piped session ends the flow cleanly.
				return CommandExit, nil
			}
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// ScriptedAnswerSource replays a fixed sequence of answers, then keeps
// answering /exit. Useful for tests and dry runs.
func ScriptedAnswerSource(answers ...string) AnswerSource {
	idx := 0
	return func(ctx context.Context, question string) (string, error) {
		if idx >= len(answers) {
			return CommandExit, nil
		}
		a := answers[idx]
		idx++
		return a, nil
	}
}
