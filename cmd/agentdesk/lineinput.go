package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/ergochat/readline"
)

// terminalLines reads the terminal with line editing and a persistent
// history. Ctrl-C on an empty line ends input like Ctrl-D.
func terminalLines(prompt, historyFile string) (<-chan string, io.Closer, error) {
	if historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
			historyFile = ""
		}
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan string)
	go func() {
		defer close(ch)
		for {
			line, err := rl.ReadLine()
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					return
				}
				continue
			}
			if err != nil {
				return
			}
			ch <- line
		}
	}()
	return ch, rl, nil
}

// historyPath places the chat history next to the default config file.
func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentdesk", "history")
}
