package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"southwinds.dev/secrets"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage the key-source table",
	Long:  `Manage the persisted table of private key sources that the decryption engine loads keys from.`,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured key sources",
	Long:  `List all key sources in the table with their locations and whether a credential is stored for them.`,
	RunE:  runSourceList,
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <location>",
	Short: "Add a key source to the table",
	Long: `Add a private key file location to the key-source table. Supply --credential
for password-protected containers (PKCS#12 bundles, encrypted PEM). The key is
loaded once to verify it parses before the table is updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runSourceAdd,
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove <location>",
	Short: "Remove a key source from the table",
	Long:  `Remove a key source from the table by its location.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceRemove,
}

// Flags
var (
	sourceCredential string
	sourceJSON       bool
	sourceNoVerify   bool
)

func init() {
	rootCmd.AddCommand(sourceCmd)

	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceRemoveCmd)

	sourceListCmd.Flags().BoolVar(&sourceJSON, "json", false, "Output in JSON format")
	sourceAddCmd.Flags().StringVar(&sourceCredential, "credential", "", "password for protected key containers")
	sourceAddCmd.Flags().BoolVar(&sourceNoVerify, "no-verify", false, "skip loading the key before adding it")
}

func runSourceList(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	return auditCmdComplete(cmd, listSources(), started)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	return auditCmdComplete(cmd, addSource(args[0], sourceCredential), started)
}

func runSourceRemove(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	return auditCmdComplete(cmd, removeSource(args[0]), started)
}

func listSources() error {
	sources, _, err := secrets.LoadKeySources(sourceStore)
	if err != nil {
		return fmt.Errorf("failed to load key-source table: %w", err)
	}

	if sourceJSON {
		output := make([]map[string]interface{}, 0, len(sources))
		for _, src := range sources {
			output = append(output, map[string]interface{}{
				"location":       src.Location,
				"has_credential": src.Credential != "",
				"token":          src.IsTokenReference(),
			})
		}
		return json.NewEncoder(os.Stdout).Encode(output)
	}

	if len(sources) == 0 {
		fmt.Println("No key sources configured.")
		return nil
	}

	// Table output
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "LOCATION\tCREDENTIAL\tTOKEN\n")
	for _, src := range sources {
		credential := "-"
		if src.Credential != "" {
			credential = "***SET***"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\n", src.Location, credential, src.IsTokenReference())
	}

	return w.Flush()
}

func addSource(location, credential string) error {
	sources, version, err := secrets.LoadKeySources(sourceStore)
	if err != nil {
		return fmt.Errorf("failed to load key-source table: %w", err)
	}

	for _, src := range sources {
		if src.Location == location {
			return fmt.Errorf("key source %s already exists", location)
		}
	}

	newSource := secrets.KeySource{Location: location, Credential: credential}

	// Verify the key parses before committing it to the table
	if !sourceNoVerify && !newSource.IsTokenReference() {
		keyID, key, err := secrets.ImportKeyFile(location, credential)
		if err != nil {
			return fmt.Errorf("key source failed verification: %w", err)
		}
		key.Destroy()
		fmt.Printf("Verified key %s\n", keyID)
	}

	sources = append(sources, newSource)

	if _, err = secrets.SaveKeySources(sourceStore, sources, version); err != nil {
		return fmt.Errorf("failed to save key-source table: %w", err)
	}

	fmt.Printf("Added key source: %s\n", location)
	return nil
}

func removeSource(location string) error {
	sources, version, err := secrets.LoadKeySources(sourceStore)
	if err != nil {
		return fmt.Errorf("failed to load key-source table: %w", err)
	}

	remaining := make([]secrets.KeySource, 0, len(sources))
	found := false
	for _, src := range sources {
		if src.Location == location {
			found = true
			continue
		}
		remaining = append(remaining, src)
	}

	if !found {
		return fmt.Errorf("key source %s not found", location)
	}

	if _, err = secrets.SaveKeySources(sourceStore, remaining, version); err != nil {
		return fmt.Errorf("failed to save key-source table: %w", err)
	}

	fmt.Printf("Removed key source: %s\n", location)
	return nil
}
