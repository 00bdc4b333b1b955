package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show key store status",
	Long:  "Display information about the key store including memory protection level and storage backend health.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("Key Store Status")
	fmt.Println("================")

	// Show memory protection
	fmt.Printf("Memory Protection: %s\n", secretsSvc.MemoryProtectionLevel())

	// Show storage backend health
	if err := sourceStore.Ping(); err != nil {
		fmt.Printf("Storage (%s): ERROR - %v\n", sourceStore.GetType(), err)
	} else {
		fmt.Printf("Storage (%s): ok\n", sourceStore.GetType())
	}

	// Show source count
	exists, err := sourceStore.SourcesExist()
	if err != nil {
		fmt.Printf("Key-Source Table: ERROR - %v\n", err)
	} else if !exists {
		fmt.Println("Key-Source Table: not created")
	} else {
		versioned, err := sourceStore.LoadSources()
		if err != nil {
			fmt.Printf("Key-Source Table: ERROR - %v\n", err)
		} else {
			fmt.Printf("Key-Source Table: version %s (%d bytes)\n", versioned.Version, len(versioned.Data))
		}
	}

	fmt.Printf("Store Path: %s\n", storePath)

	return nil
}
