package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/minus-twelve/ledgerauth/internal/app"
)

// printResult writes fields as indented JSON or as sorted key: value lines.
func printResult(w io.Writer, format string, fields map[string]any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(fields)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s: %v\n", k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig(opts *RootOptions, stderr io.Writer) (app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig(opts.ConfigPath)
	if err != nil {
		return app.Config{}, nil, err
	}
	logger, err := app.NewLogger(cfg.Log, stderr)
	if err != nil {
		return app.Config{}, nil, err
	}
	return cfg, logger, nil
}
