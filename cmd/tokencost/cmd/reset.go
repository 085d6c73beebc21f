package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all recorded usage",
	Long:  `Delete every record from the ledger. Budget limits are kept.`,
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetForce {
		fmt.Print("This permanently deletes all recorded usage. Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.store.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d records\n", n)
	return nil
}
