package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/tkv/cmd/kv"
	"github.com/ValentinKolb/tkv/cmd/lock"
	"github.com/ValentinKolb/tkv/cmd/serve"
	"github.com/ValentinKolb/tkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tkv",
		Short: "typed document storage on key-value stores",
		Long: fmt.Sprintf(`tkv (v%s)

Stores typed documents in a key-value store (in memory, redis or a replicated
tkv server) as hashes, lists, blobs or one key per document, with batched or
transactional dispatch and fixed or sliding expiry.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tkv v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer of the rpc messages (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport of the rpc messages (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
