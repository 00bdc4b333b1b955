package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"southwinds.dev/secrets"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <key-file>",
	Short: "Print the key identifier of an RSA private key file",
	Long: `Load an RSA private key from a file and print its key identifier: the
SHA-1 digest of the public key bits, the same fingerprint used to match keys
against captured certificates.`,
	Args: cobra.ExactArgs(1),
	RunE: runFingerprint,
}

var (
	fingerprintCredential string
	fingerprintJSON       bool
)

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().StringVar(&fingerprintCredential, "credential", "", "password for protected key containers (PKCS#12, encrypted PEM)")
	fingerprintCmd.Flags().BoolVar(&fingerprintJSON, "json", false, "Output in JSON format")
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	return auditCmdComplete(cmd, fingerprintKeyFile(args[0]), started)
}

func fingerprintKeyFile(location string) error {
	keyID, key, err := secrets.ImportKeyFile(location, fingerprintCredential)
	if err != nil {
		return fmt.Errorf("failed to load key from %s: %w", location, err)
	}
	defer key.Destroy()

	if fingerprintJSON {
		info := map[string]interface{}{
			"location": location,
			"key_id":   keyID.String(),
			"folded":   keyID.Fold(),
		}
		return json.NewEncoder(os.Stdout).Encode(info)
	}

	fmt.Printf("Location: %s\n", location)
	fmt.Printf("Key ID:   %s\n", keyID)
	fmt.Printf("Folded:   0x%08x\n", keyID.Fold())

	return nil
}
