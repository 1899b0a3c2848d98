package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/adapter"
	"github.com/danielr-rlty/rlty-platform/pkg/decision"
	"github.com/danielr-rlty/rlty-platform/pkg/invariant"
	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/normalize"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "normalize":
		return normalizeCmd(args[1:], out)
	case "check":
		return checkCmd(args[1:], out)
	case "translate":
		return translateCmd(args[1:], out)
	case "validate":
		return validateCmd(args[1:], out)
	case "template":
		return templateCmd(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "consentctl commands:")
	fmt.Fprintln(out, "  normalize --text \"...\" | --in consent.txt")
	fmt.Fprintln(out, "  check --text \"...\" | --in consent.txt")
	fmt.Fprintln(out, "  translate --record record.json --direction to_current|to_legacy")
	fmt.Fprintln(out, "  validate --record record.json --mode legacy_only|current_only|dual_compare")
	fmt.Fprintln(out, "  template --key general")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func readText(textFlag, inFlag string) (string, error) {
	if textFlag != "" {
		return textFlag, nil
	}
	if inFlag == "" {
		return "", errors.New("text or in required")
	}
	raw, err := os.ReadFile(inFlag)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(raw), nil
}

func normalizeCmd(args []string, out io.Writer) error {
	fs := newFlagSet("normalize")
	text := fs.String("text", "", "consent text")
	in := fs.String("in", "", "consent text file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	input, err := readText(*text, *in)
	if err != nil {
		return err
	}
	return writeJSON(out, normalize.Normalize(input))
}

func checkCmd(args []string, out io.Writer) error {
	fs := newFlagSet("check")
	text := fs.String("text", "", "consent text")
	in := fs.String("in", "", "consent text file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	input, err := readText(*text, *in)
	if err != nil {
		return err
	}
	findings := normalize.Findings(input)
	if err := writeJSON(out, map[string]interface{}{
		"normalized": len(findings) == 0,
		"findings":   findings,
	}); err != nil {
		return err
	}
	if len(findings) > 0 {
		return fmt.Errorf("%d span(s) still carry legacy language", len(findings))
	}
	return nil
}

func readRecord(path string) (models.ConsentRecord, error) {
	var rec models.ConsentRecord
	if path == "" {
		return rec, errors.New("record required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("read record: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func translateCmd(args []string, out io.Writer) error {
	fs := newFlagSet("translate")
	recordPath := fs.String("record", "", "consent record json path")
	direction := fs.String("direction", "to_current", "to_current or to_legacy")
	budgetMS := fs.Int("budget-ms", 0, "translate budget in milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rec, err := readRecord(*recordPath)
	if err != nil {
		return err
	}
	ad := adapter.New(time.Millisecond*time.Duration(*budgetMS), nil)
	ctx := context.Background()
	var tr models.Translation
	switch *direction {
	case "to_current":
		tr, err = ad.ToCurrent(ctx, rec)
	case "to_legacy":
		tr, err = ad.ToLegacy(ctx, rec)
	default:
		return fmt.Errorf("unknown direction: %s", *direction)
	}
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	return writeJSON(out, tr)
}

func validateCmd(args []string, out io.Writer) error {
	fs := newFlagSet("validate")
	recordPath := fs.String("record", "", "consent record json path")
	mode := fs.String("mode", invariant.ModeDualCompare, "validation mode")
	policy := fs.String("policy", decision.PolicyStrict, "divergence policy: strict or permissive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rec, err := readRecord(*recordPath)
	if err != nil {
		return err
	}
	validator := invariant.New(adapter.New(0, nil))
	result, err := validator.Validate(context.Background(), rec, *mode)
	budgetExceeded := errors.Is(err, adapter.ErrBudgetExceeded)
	if err != nil && !budgetExceeded {
		return fmt.Errorf("validate: %w", err)
	}
	cfg := decision.DefaultConfig()
	cfg.Policy = *policy
	allow, iv, reason := decision.Decide(cfg, decision.Inputs{
		Validation:     result,
		BudgetExceeded: budgetExceeded,
	})
	if err := writeJSON(out, map[string]interface{}{
		"allow":        allow,
		"reason_code":  reason,
		"intervention": iv,
		"validation":   result,
	}); err != nil {
		return err
	}
	if !allow {
		return fmt.Errorf("denied: %s", reason)
	}
	return nil
}

func templateCmd(args []string, out io.Writer) error {
	fs := newFlagSet("template")
	key := fs.String("key", "general", "template key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintln(out, normalize.Template(*key))
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}
