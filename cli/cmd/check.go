package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"southwinds.dev/secrets"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load all key sources and report the result",
	Long: `Load every key source in the table into the key store and report which
keys loaded and which sources failed. This is the same loading path the
decryption engine runs when the table changes.`,
	RunE: runCheck,
}

var checkJSON bool

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output in JSON format")
}

func runCheck(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	return auditCmdComplete(cmd, checkSources(), started)
}

func checkSources() error {
	sources, _, err := secrets.LoadKeySources(sourceStore)
	if err != nil {
		return fmt.Errorf("failed to load key-source table: %w", err)
	}

	reloadErr := secretsSvc.ReloadKeys(sources)

	keyIDs, err := secretsSvc.KeyIDs()
	if err != nil {
		return fmt.Errorf("failed to list loaded keys: %w", err)
	}

	var report *secrets.ReloadReport
	if reloadErr != nil && !errors.As(reloadErr, &report) {
		return reloadErr
	}

	if checkJSON {
		failures := map[string]string{}
		if report != nil {
			for location, cause := range report.Failures {
				failures[location] = cause.Error()
			}
		}
		ids := make([]string, 0, len(keyIDs))
		for _, id := range keyIDs {
			ids = append(ids, id.String())
		}
		return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"sources":  len(sources),
			"loaded":   ids,
			"failures": failures,
		})
	}

	fmt.Printf("Key sources: %d\n", len(sources))
	fmt.Printf("Keys loaded: %d\n", len(keyIDs))

	if len(keyIDs) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "KEY ID\tFOLDED\n")
		for _, id := range keyIDs {
			fmt.Fprintf(w, "%s\t0x%08x\n", id, id.Fold())
		}
		if err = w.Flush(); err != nil {
			return err
		}
	}

	if report != nil {
		fmt.Printf("\n%v\n", report)
		return fmt.Errorf("%d key source(s) failed to load", len(report.Failures))
	}

	return nil
}
