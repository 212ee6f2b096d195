package main

import (
	"encoding/json"
	"fmt"
	"io"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func pickConfig(flagPath string, args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return flagPath
}
