package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pattersondev/voynich-client/internal/api"
	clog "github.com/pattersondev/voynich-client/internal/log"
	"github.com/pattersondev/voynich-client/internal/models"
)

var createDuration string

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a self-destructing chat room",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := clog.Quiet()
		store := openIdentity(logger)
		defer store.Close()

		client := api.NewClient(serverURL, store)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := client.CreateChat(ctx, createDuration)
		if err != nil {
			return err
		}
		fmt.Printf("chat created: %s (expires in %s)\n", resp.ID, createDuration)
		fmt.Printf("join it with: voynich join %s\n", resp.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	createCmd.Flags().StringVarP(&createDuration, "duration", "d", "1h",
		"room lifetime, one of "+durationChoices())
}

func durationChoices() string {
	keys := make([]string, 0, len(models.Durations))
	for k := range models.Durations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return models.Durations[keys[i]] < models.Durations[keys[j]] })
	return strings.Join(keys, ", ")
}
