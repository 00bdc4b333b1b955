package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"southwinds.dev/secrets"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt <key-id> <ciphertext-file>",
	Short: "Decrypt a ciphertext with a loaded key",
	Long: `Load all key sources, look up the key identified by the hex key-id, and
decrypt the ciphertext read from the given file. The plaintext is written to
stdout, or to --out if set.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecrypt,
}

var decryptOutFile string

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringVarP(&decryptOutFile, "out", "o", "", "write plaintext to file instead of stdout")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)
	return auditCmdComplete(cmd, decryptCiphertext(args[0], args[1]), started)
}

func decryptCiphertext(keyIDHex, ciphertextFile string) error {
	keyID, err := secrets.ParseKeyID(keyIDHex)
	if err != nil {
		return fmt.Errorf("invalid key identifier %q: %w", keyIDHex, err)
	}

	ciphertext, err := os.ReadFile(ciphertextFile)
	if err != nil {
		return fmt.Errorf("failed to read ciphertext: %w", err)
	}

	sources, _, err := secrets.LoadKeySources(sourceStore)
	if err != nil {
		return fmt.Errorf("failed to load key-source table: %w", err)
	}

	// Partial load failures are tolerable as long as the requested key made it in.
	var report *secrets.ReloadReport
	if err = secretsSvc.ReloadKeys(sources); err != nil && !errors.As(err, &report) {
		return err
	}

	plaintext, err := secretsSvc.DecryptWithKey(keyID, ciphertext)
	if err != nil {
		if report != nil && errors.Is(err, secrets.ErrKeyNotFound) {
			return fmt.Errorf("key %s not loaded: %w", keyID, report)
		}
		return err
	}

	if decryptOutFile != "" {
		if err = os.WriteFile(decryptOutFile, plaintext, 0600); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		fmt.Printf("Wrote %d bytes to %s\n", len(plaintext), decryptOutFile)
		return nil
	}

	_, err = os.Stdout.Write(plaintext)
	return err
}
