package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/shuffle/internal/config"
	"github.com/BioHazard786/shuffle/internal/ui"
	"github.com/BioHazard786/shuffle/internal/version"
)

var flags config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "shuffle",
	Short:   "Random one-to-one voice and text chat from the terminal",
	Long:    `Shuffle pairs you with a random stranger who is also waiting. The signaling server only introduces you; audio flows peer to peer over WebRTC and chat is relayed between the two of you.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.Server, "server", "", "signaling server host[:port] (env SHUFFLE_SERVER)")
	pf.BoolVar(&flags.Secure, "secure", false, "connect with wss:// (env SHUFFLE_SECURE)")
	pf.StringVar(&flags.Codec, "codec", "", "wire codec, json or msgpack (env SHUFFLE_CODEC)")
	pf.StringVar(&flags.STUNServer, "stun", "", "STUN server URL (env STUN_SERVER)")
	pf.StringVar(&flags.TURNServer, "turn", "", "TURN server host or URL (env TURN_SERVER)")
	pf.StringVar(&flags.TURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	pf.StringVar(&flags.TURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	pf.BoolVar(&flags.ForceRelay, "relay", false, "only use TURN relay candidates (env SHUFFLE_FORCE_RELAY)")
	pf.DurationVar(&flags.RetryTimeout, "retry-timeout", 0, "how long an offer waits before it is retried (env SHUFFLE_RETRY_TIMEOUT)")
	pf.IntVar(&flags.MaxAttempts, "max-attempts", 0, "offer attempts per match (env SHUFFLE_MAX_ATTEMPTS)")

	rootCmd.AddCommand(chatCmd, usersCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
