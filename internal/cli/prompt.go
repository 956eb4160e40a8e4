package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// lineSource returns the next line of operator input.
type lineSource func() (string, error)

func readerSource(r *bufio.Reader) lineSource {
	return func() (string, error) {
		return r.ReadString('\n')
	}
}

// readLines feeds the lines of r into a channel that is closed at EOF or
// when ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func channelSource(lines <-chan string) lineSource {
	return func() (string, error) {
		line, ok := <-lines
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// promptYesNo asks question on w. An empty answer or EOF yields def.
// Unrecognised answers are asked again.
func promptYesNo(next lineSource, w io.Writer, question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		fmt.Fprintf(w, "%s %s: ", question, hint)
		input, err := next()
		if err != nil && input == "" {
			return def, err
		}
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(w, "Please answer y or n.")
		if err != nil {
			return def, err
		}
	}
}
