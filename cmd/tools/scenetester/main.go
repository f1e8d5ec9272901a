// Command scenetester drives the scene guide from a terminal: a directory of
// images stands in for the camera, stdin for the microphone and stdout for
// the speaker. It also exercises the Volcengine speech clients directly.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/scene-guide/backend/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "scenetester",
	Short: "Run scene guide sessions and speech checks from the terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		if err := godotenv.Load(); err != nil {
			log.Printf("[WARN] failed to load .env, using system environment: %v", err)
		}
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.AddCommand(newRunCmd(), newTTSCmd(), newASRCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}
